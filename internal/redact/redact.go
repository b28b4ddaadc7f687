package redact

import (
	"encoding/json"
	"net/http"
	"strings"
)

var sensitiveKeys = map[string]bool{
	"phone":            true,
	"phone_number":     true,
	"msisdn":           true,
	"partyid":          true,
	"access_token":     true,
	"api_key":          true,
	"apikey":           true,
	"secret":           true,
	"password":         true,
	"tpin":             true,
	"seller_tpin":      true,
	"buyer_tpin":       true,
	"subscription_key": true,
}

// party objects carry the MSISDN under a generic "id" key.
var partyKeys = map[string]bool{
	"payer": true,
	"payee": true,
}

var sensitiveHeaders = []string{
	"Authorization",
	"Ocp-Apim-Subscription-Key",
	"X-Signature",
}

// Mask keeps the last four characters of value.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// JSON masks sensitive fields in a JSON document. Bodies that are not JSON are
// returned unchanged.
func JSON(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	masked, err := json.Marshal(walk(doc, false))
	if err != nil {
		return body
	}
	return masked
}

func walk(v interface{}, inParty bool) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			key := strings.ToLower(k)
			if s, ok := child.(string); ok && (sensitiveKeys[key] || (inParty && key == "id")) {
				node[k] = Mask(s)
				continue
			}
			node[k] = walk(child, partyKeys[key])
		}
		return node
	case []interface{}:
		for i, child := range node {
			node[i] = walk(child, false)
		}
		return node
	default:
		return v
	}
}

// Headers returns a copy of h with credentials masked.
func Headers(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range sensitiveHeaders {
		if v := out.Get(name); v != "" {
			out.Set(name, Mask(v))
		}
	}
	return out
}
