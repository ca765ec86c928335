// Package variables resolves personalization tokens against a recipient
// context. The registry is fixed at construction; rendering never fails for
// a missing value, and template validation is what blocks a workflow from
// going live with unknown tokens.
package variables

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
)

// Context is the key/value data a template is rendered against: the
// execution context merged from event and subscriber data, or a sample
// context during preview.
type Context map[string]any

// Resolver produces a token's value from a context. The second return is
// false when the context carries no value for the token.
type Resolver func(ctx Context) (string, bool)

// tokenPattern matches {{token}} occurrences. Anything outside token
// boundaries passes through rendering unchanged.
var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Builtin token keys.
const (
	TokenSubscriberName  = "subscriber_name"
	TokenSubscriberEmail = "subscriber_email"
	TokenPublicationName = "publication_name"
	TokenUnsubscribeLink = "unsubscribe_link"
	TokenPostTitle       = "post_title"
	TokenCourseTitle     = "course_title"
	TokenTagName         = "tag_name"
	TokenTierName        = "tier_name"
)

// Registry maps token keys to resolver functions.
type Registry struct {
	logger    *slog.Logger
	resolvers map[string]Resolver
}

// NewRegistry creates a registry with the builtin personalization tokens.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger:    logger.With("module", "variables"),
		resolvers: make(map[string]Resolver),
	}

	for _, token := range []string{
		TokenSubscriberName,
		TokenSubscriberEmail,
		TokenPublicationName,
		TokenUnsubscribeLink,
		TokenPostTitle,
		TokenCourseTitle,
		TokenTagName,
		TokenTierName,
	} {
		r.Register(token, contextValue(token))
	}

	return r
}

// Register adds or replaces a token resolver.
func (r *Registry) Register(token string, resolver Resolver) {
	r.resolvers[token] = resolver
}

// Tokens returns the registered token keys, sorted.
func (r *Registry) Tokens() []string {
	tokens := make([]string, 0, len(r.resolvers))
	for token := range r.resolvers {
		tokens = append(tokens, token)
	}

	sort.Strings(tokens)

	return tokens
}

// Render replaces every {{token}} occurrence in template. Registered tokens
// with no value in ctx render as an empty string with a warning; tokens not
// in the registry also render empty (validation is what rejects them before
// a workflow can publish). Rendering never returns an error, and re-rendering
// fully-resolved output returns it unchanged.
func (r *Registry) Render(template string, ctx Context) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		token := tokenPattern.FindStringSubmatch(match)[1]

		resolver, registered := r.resolvers[token]
		if !registered {
			r.logger.Warn("Unregistered token in template", "token", token)

			return ""
		}

		value, ok := resolver(ctx)
		if !ok {
			r.logger.Warn("No value for token in this context", "token", token)

			return ""
		}

		return value
	})
}

// ValidationResult is the outcome of validating a template against the
// registry and a preview sample context.
type ValidationResult struct {
	IsValid          bool     `json:"is_valid"`
	InvalidVariables []string `json:"invalid_variables,omitempty"`
	MissingVariables []string `json:"missing_variables,omitempty"`
}

// Validate checks every token in template. Tokens absent from the registry
// make the template invalid and block publishing; registered tokens that the
// sample context cannot resolve are advisory only.
func (r *Registry) Validate(template string, sample Context) ValidationResult {
	result := ValidationResult{IsValid: true}
	seen := make(map[string]bool)

	for _, match := range tokenPattern.FindAllStringSubmatch(template, -1) {
		token := match[1]
		if seen[token] {
			continue
		}

		seen[token] = true

		resolver, registered := r.resolvers[token]
		if !registered {
			result.IsValid = false
			result.InvalidVariables = append(result.InvalidVariables, token)

			continue
		}

		if _, ok := resolver(sample); !ok {
			result.MissingVariables = append(result.MissingVariables, token)
		}
	}

	return result
}

// contextValue resolves a token from the context key of the same name.
func contextValue(key string) Resolver {
	return func(ctx Context) (string, bool) {
		value, ok := ctx[key]
		if !ok || value == nil {
			return "", false
		}

		if text, isString := value.(string); isString {
			return text, true
		}

		return fmt.Sprintf("%v", value), true
	}
}
