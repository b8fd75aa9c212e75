package assets

import "os"

// CredentialScope names the credential that authorizes a fetch.
type CredentialScope string

// Credential scopes for the supported registries.
const (
	// ScopeNone marks a source that is fetched anonymously.
	ScopeNone CredentialScope = ""

	// ScopeHuggingFace authorizes gated Hugging Face repositories.
	ScopeHuggingFace CredentialScope = "huggingface"

	// ScopeCivitai authorizes Civitai downloads.
	ScopeCivitai CredentialScope = "civitai"
)

// Environment variables holding registry tokens.
const (
	EnvHuggingFaceToken = "HF_TOKEN"
	EnvCivitaiToken     = "CIVITAI_API_TOKEN"
)

// Credentials maps a scope to its bearer token. A scope that is absent or
// maps to an empty token disables only the entries that require it.
type Credentials map[CredentialScope]string

// CredentialsFromEnv builds Credentials from the process environment.
// Unset tokens are simply omitted.
func CredentialsFromEnv() Credentials {
	creds := Credentials{}
	if tok := os.Getenv(EnvHuggingFaceToken); tok != "" {
		creds[ScopeHuggingFace] = tok
	}
	if tok := os.Getenv(EnvCivitaiToken); tok != "" {
		creds[ScopeCivitai] = tok
	}
	return creds
}

// token returns the token for a scope. ok is true when the scope is
// anonymous or a non-empty token is present.
func (c Credentials) token(scope CredentialScope) (string, bool) {
	if scope == ScopeNone {
		return "", true
	}
	tok, ok := c[scope]
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}
