package engine

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/viant/sqlite-txt/token"
	sqlite "modernc.org/sqlite"
)

// RegisterTextFunctions registers txt_tokens and txt_match with the driver so
// they are available on new connections opened after this call.
// Note: existing open connections will not see new functions.
func RegisterTextFunctions() error {
	// Idempotent registration; driver rejects duplicates but we ignore errors silently here.
	_ = sqlite.RegisterDeterministicScalarFunction("txt_tokens", 1, txtTokensImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("txt_match", 3, txtMatchImpl)
	return nil
}

func asText(arg driver.Value) (string, bool, error) {
	switch v := arg.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	case int64:
		return fmt.Sprint(v), true, nil
	case float64:
		return fmt.Sprint(v), true, nil
	default:
		return "", false, fmt.Errorf("txt: unsupported argument type %T for text", arg)
	}
}

// txtTokensImpl implements txt_tokens(text) → TEXT: the space-joined tokens.
func txtTokensImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("txt_tokens: expected 1 argument, got %d", len(args))
	}
	text, ok, err := asText(args[0])
	if err != nil || !ok {
		return nil, err
	}
	return strings.Join(token.Tokenize(text), " "), nil
}

// txtMatchImpl implements txt_match(text, query, prefix) → INTEGER. It
// returns 1 when any query token matches any token of text.
func txtMatchImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("txt_match: expected 3 arguments, got %d", len(args))
	}
	text, ok, err := asText(args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return int64(0), nil
	}
	query, ok, err := asText(args[1])
	if err != nil {
		return nil, err
	}
	if !ok {
		return int64(0), nil
	}
	prefix := false
	switch v := args[2].(type) {
	case int64:
		prefix = v != 0
	case bool:
		prefix = v
	}
	if Match(text, query, prefix) {
		return int64(1), nil
	}
	return int64(0), nil
}

// Match reports whether any token of query matches any token of text, either
// exactly or, in prefix mode, as a prefix of a text token.
func Match(text, query string, prefix bool) bool {
	tokens := token.Set(token.Tokenize(text))
	for _, q := range token.Tokenize(query) {
		if tokens.Contains(q) {
			return true
		}
		if !prefix {
			continue
		}
		for _, t := range tokens {
			if token.HasPrefix(t, q) {
				return true
			}
		}
	}
	return false
}
