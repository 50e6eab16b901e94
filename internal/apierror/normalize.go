package apierror

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// maxBodyBytes bounds how much of an error body is kept.
const maxBodyBytes = 64 << 10

var (
	errorsKeys  = []string{"errors", "Errors"}
	messageKeys = []string{"message", "Message", "error", "Error", "title", "Title", "detail", "Detail"}
	descKeys    = []string{"description", "Description", "message", "Message"}
	resultKeys  = []string{"message", "Message", "result", "Result", "title", "Title", "error", "Error"}

	duplicatePattern = regexp.MustCompile(`(?i)(duplicate|already\s*exists|already\s*taken|already\s*registered|in\s*use|已存在|已被使用|已被註冊|已註冊)`)
)

// Normalize builds an Error from a status code and response body.
//
// Shapes are tried in order: a field map under "errors", an array of error
// descriptions under "errors", a flat message field, then the body as plain
// text.
func Normalize(status int, body []byte) *Error {
	e := &Error{
		Status:  status,
		RawBody: string(body),
	}

	var descriptions []string
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		if doc.IsObject() || doc.IsArray() {
			e.Data = json.RawMessage(body)
		}
		if doc.IsObject() {
			errs := first(doc, errorsKeys)
			switch {
			case errs.IsObject():
				e.Fields = fieldMap(errs)
			case errs.IsArray():
				descriptions = descriptionList(errs)
			}
			if msg := first(doc, messageKeys); msg.Type == gjson.String {
				e.Message = strings.TrimSpace(msg.String())
			}
		} else if doc.Type == gjson.String {
			e.Message = strings.TrimSpace(doc.String())
		}
	} else {
		e.Message = strings.TrimSpace(string(body))
	}

	if e.Message == "" && len(descriptions) > 0 {
		e.Message = descriptions[0]
	}
	if e.Message == "" {
		e.Message = firstFieldMessage(e.Fields)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	e.Classification = classify(status, e, descriptions)
	return e
}

// SuccessMessage extracts a confirmation message from a 2xx body, falling back
// to the trimmed plain text and then to fallback.
func SuccessMessage(body []byte, fallback string) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}
	if !gjson.Valid(text) {
		return text
	}
	doc := gjson.Parse(text)
	if doc.Type == gjson.String {
		if s := strings.TrimSpace(doc.String()); s != "" {
			return s
		}
		return fallback
	}
	if doc.IsObject() {
		if msg := first(doc, resultKeys); msg.Type == gjson.String && strings.TrimSpace(msg.String()) != "" {
			return strings.TrimSpace(msg.String())
		}
	}
	return fallback
}

func classify(status int, e *Error, descriptions []string) Classification {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status == http.StatusConflict:
		return Duplicate
	case mentionsDuplicate(e, descriptions):
		return Duplicate
	case len(e.Fields) > 0, status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return Validation
	default:
		return Unknown
	}
}

func mentionsDuplicate(e *Error, descriptions []string) bool {
	if duplicatePattern.MatchString(e.Message) {
		return true
	}
	for _, d := range descriptions {
		if duplicatePattern.MatchString(d) {
			return true
		}
	}
	for _, msgs := range e.Fields {
		for _, m := range msgs {
			if duplicatePattern.MatchString(m) {
				return true
			}
		}
	}
	return false
}

func first(doc gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if r := doc.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// fieldMap reads {"Email": ["taken"], "Password": "too short"}.
func fieldMap(errs gjson.Result) map[string][]string {
	fields := make(map[string][]string)
	errs.ForEach(func(key, value gjson.Result) bool {
		var msgs []string
		if value.IsArray() {
			for _, m := range value.Array() {
				if s := strings.TrimSpace(m.String()); s != "" {
					msgs = append(msgs, s)
				}
			}
		} else if s := strings.TrimSpace(value.String()); s != "" {
			msgs = append(msgs, s)
		}
		if len(msgs) > 0 {
			fields[key.String()] = msgs
		}
		return true
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// descriptionList reads [{"code": "DuplicateEmail", "description": "..."}] or ["..."].
func descriptionList(errs gjson.Result) []string {
	var out []string
	for _, item := range errs.Array() {
		var s string
		if item.IsObject() {
			s = first(item, descKeys).String()
		} else {
			s = item.String()
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstFieldMessage(fields map[string][]string) string {
	// map order is random; pick the alphabetically first field for stable output
	var best string
	for name := range fields {
		if best == "" || name < best {
			best = name
		}
	}
	if best == "" {
		return ""
	}
	return fields[best][0]
}

func readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
