package model

// DocumentRef points at one input document. Exactly one of Path, URL or
// Content is expected to be set; Name is only used to infer the file type.
type DocumentRef struct {
	Path    string
	URL     string
	Name    string
	Content []byte
}

func (r DocumentRef) DisplayName() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Path != "":
		return r.Path
	default:
		return r.URL
	}
}

type PageRecord struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	PageIndex  int    `json:"page_index"`
	Text       string `json:"text"`
}
