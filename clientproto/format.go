package clientproto

import (
	"encoding/json"
	"encoding/xml"
	"strings"
)

const defaultTopic = "default"

// jsonTopic decodes just the field the topic extraction needs,
// mirroring original_source/Broker/broker.py's `data.get("Topic",
// "default")`.
type jsonTopic struct {
	Topic string `json:"Topic"`
}

type xmlTopic struct {
	XMLName xml.Name `xml:"Topic"`
	Topic   string   `xml:",chardata"`
}

// validateFormat reports whether body parses as a well-formed message
// of the given format. RAW is always valid.
func validateFormat(format, body string) bool {
	switch strings.ToUpper(format) {
	case "JSON":
		return json.Valid([]byte(body))
	case "XML":
		var v struct {
			XMLName xml.Name
		}
		return xml.Unmarshal([]byte(body), &v) == nil
	default:
		return true
	}
}

// extractTopic pulls the topic out of a publisher frame's body,
// following format-specific conventions: JSON's "Topic" field, XML's
// <Topic> element, or RAW's "[topic] " prefix. It falls back to
// defaultTopic whenever parsing fails or the field is absent; it never
// rejects the frame.
func extractTopic(format, body string) string {
	switch strings.ToUpper(format) {
	case "JSON":
		var jt jsonTopic
		if err := json.Unmarshal([]byte(body), &jt); err == nil && jt.Topic != "" {
			return jt.Topic
		}
	case "XML":
		var root struct {
			XMLName xml.Name `xml:""`
			Topic   string   `xml:"Topic"`
		}
		if err := xml.Unmarshal([]byte(body), &root); err == nil && root.Topic != "" {
			return root.Topic
		}
	default:
		if strings.HasPrefix(body, "[") {
			if end := strings.Index(body, "]"); end > 0 {
				return strings.TrimSpace(body[1:end])
			}
		}
	}
	return defaultTopic
}

// parseFormatFrame splits a publisher line of the form
// "FORMAT:TYPE|BODY" into its type and body, falling back to RAW with
// the whole line as body when the frame is malformed (per broker.py's
// bare `except` around the split).
func parseFormatFrame(line string) (format, body string) {
	const prefix = "FORMAT:"
	rest := line
	if strings.HasPrefix(rest, prefix) {
		rest = rest[len(prefix):]
	}
	parts := strings.SplitN(rest, "|", 2)
	if len(parts) != 2 {
		return "RAW", line
	}
	format, body = parts[0], parts[1]
	if !validateFormat(format, body) {
		return "RAW", line
	}
	return format, body
}
