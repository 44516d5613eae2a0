package retriever

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultMaxIterations is used when RetrieveIterative gets a
	// non-positive iteration count.
	DefaultMaxIterations = 3

	// refineTokens caps the tokens appended per refinement step.
	refineTokens = 2

	// minRefineTokenLen is the exclusive lower bound on refinement token
	// length, in characters.
	minRefineTokenLen = 3
)

// RetrieveIterative retrieves repeatedly, each time extending the query with
// up to two new tokens from the top result. It stops when a retrieval has no
// results, when the top result offers no new tokens, or after maxIterations
// contexts. Contexts produced before an error are returned with it.
func (r *Retriever) RetrieveIterative(ctx context.Context, query string, maxIterations int, strategy Strategy) ([]*RetrievalContext, error) {
	ctx, span := tracer.Start(ctx, "retriever.RetrieveIterative")
	defer span.End()

	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	var contexts []*RetrievalContext
	current := query
	for i := 0; i < maxIterations; i++ {
		rc, err := r.Retrieve(ctx, current, 0, strategy)
		if err != nil {
			return contexts, spanError(span, err)
		}
		contexts = append(contexts, rc)

		if len(rc.Results) == 0 {
			break
		}
		next, ok := RefineQuery(current, rc.Results[0].Content)
		if !ok {
			break
		}
		current = next
	}

	span.SetAttributes(attribute.Int("iterations", len(contexts)))
	return contexts, nil
}

// RefineQuery appends up to two lower-cased whitespace tokens from content
// that are longer than three characters and not already in query, compared
// case-insensitively, in content order. It reports false when no token
// qualifies.
func RefineQuery(query, content string) (string, bool) {
	existing := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		existing[tok] = struct{}{}
	}

	var added []string
	for _, tok := range strings.Fields(content) {
		tok = strings.ToLower(tok)
		if utf8.RuneCountInString(tok) <= minRefineTokenLen {
			continue
		}
		if _, ok := existing[tok]; ok {
			continue
		}
		existing[tok] = struct{}{}
		added = append(added, tok)
		if len(added) == refineTokens {
			break
		}
	}

	if len(added) == 0 {
		return query, false
	}
	return query + " " + strings.Join(added, " "), true
}
