// Package cloudauth provides http.RoundTripper decorators that inject
// authentication for cloud-hosted LLM providers: GCP OAuth bearer tokens
// for Vertex AI and AWS SigV4 signing for Bedrock. Header-based API keys
// are set per request by the adapters themselves, since tenant
// credentials can override the platform key call by call.
package cloudauth
