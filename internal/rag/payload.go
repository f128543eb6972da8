package rag

import "fmt"

// Payload keys shared by every remote backend.
const (
	payloadText   = "text"
	payloadSource = "source"
)

// toPayload flattens md into a string map. Extra keys that collide with the
// reserved text/source keys are dropped.
func toPayload(md Metadata) map[string]string {
	p := make(map[string]string, len(md.Extra)+2)
	for k, v := range md.Extra {
		p[k] = v
	}
	p[payloadText] = md.Text
	p[payloadSource] = md.Source
	return p
}

// fromPayload rebuilds Metadata from a flat string map. A payload without a
// text field is rejected since the record cannot contribute context.
func fromPayload(id string, p map[string]string) (Metadata, error) {
	text, ok := p[payloadText]
	if !ok {
		return Metadata{}, fmt.Errorf("rag: record %s has no %q payload", id, payloadText)
	}
	md := Metadata{Text: text, Source: p[payloadSource]}
	for k, v := range p {
		if k == payloadText || k == payloadSource {
			continue
		}
		if md.Extra == nil {
			md.Extra = make(map[string]string)
		}
		md.Extra[k] = v
	}
	return md, nil
}
