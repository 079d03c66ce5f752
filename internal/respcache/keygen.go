// Package respcache is the content-addressed response cache: completed
// provider responses keyed by a stable hash of the normalized prompt,
// provider, model, and completion-relevant parameters.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// NormalizePrompt collapses incidental formatting so byte-different but
// semantically identical prompts hash to the same key: leading/trailing
// whitespace is trimmed and internal whitespace runs collapse to a single
// space. Case and punctuation are preserved; they change the completion.
func NormalizePrompt(prompt string) string {
	var sb strings.Builder
	sb.Grow(len(prompt))
	inSpace := false
	for _, r := range strings.TrimSpace(prompt) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			sb.WriteByte(' ')
			inSpace = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// KeyParams are the inputs that address a cached completion.
type KeyParams struct {
	Provider string
	Model    string
	Prompt   string
	// Params are completion-relevant request parameters (temperature and
	// the like). Iteration order does not affect the key.
	Params map[string]string
}

// Keygen produces stable SHA-256 cache keys with an optional prefix.
type Keygen struct {
	Prefix string
}

// NewKeygen creates a key generator with the given prefix.
func NewKeygen(prefix string) *Keygen {
	return &Keygen{Prefix: prefix}
}

// Generate builds the cache key. The canonical form is
// provider|model|normalized prompt|sorted params, hashed with SHA-256.
func (g *Keygen) Generate(params KeyParams) string {
	var sb strings.Builder
	sb.WriteString("provider:")
	sb.WriteString(params.Provider)
	sb.WriteString("|model:")
	sb.WriteString(params.Model)
	sb.WriteString("|prompt:")
	sb.WriteString(NormalizePrompt(params.Prompt))

	if len(params.Params) > 0 {
		keys := make([]string, 0, len(params.Params))
		for k := range params.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("|%s:%s", k, params.Params[k]))
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	digest := hex.EncodeToString(sum[:])
	if g.Prefix != "" {
		return g.Prefix + ":" + digest
	}
	return digest
}
