package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/topology/platform"
)

// upstream is the part of a dependency's output that its dependents can
// read. Status and sync time are left out so that a refresh alone does not
// change a digest.
type upstream struct {
	ID            string         `json:"id,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"`
	CredentialRef string         `json:"credentialRef,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// declarationDigest fingerprints r as rendered together with the outputs of
// everything it reads. Map keys are encoded sorted, so equal declarations
// give equal digests.
func declarationDigest(r *platform.Resource, outputs map[string]*platform.ResourceOutput) (string, error) {
	reads := make(map[string]upstream)
	for _, dep := range r.Reads() {
		out, ok := outputs[dep]
		if !ok {
			continue
		}
		reads[dep] = upstream{
			ID:            out.ID,
			Endpoint:      out.Endpoint,
			CredentialRef: out.CredentialRef,
			Properties:    out.Properties,
		}
	}
	b, err := json.Marshal(struct {
		Type       string              `json:"type"`
		Properties map[string]any      `json:"properties"`
		Reads      map[string]upstream `json:"reads,omitempty"`
	}{r.Type, r.Rendered(), reads})
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
