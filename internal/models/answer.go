package models

// ImageRef is one image surfaced by an image-intent query.
type ImageRef struct {
	URL      string `json:"url"`
	PostedBy string `json:"postedBy"`
	Time     string `json:"time"`
}

// Answer is the response for a question. Text answers leave Images nil;
// image answers always set Images (possibly empty) so the two shapes are
// distinguishable on the wire.
type Answer struct {
	Answer string     `json:"answer"`
	Images []ImageRef `json:"images,omitempty"`
}

// TextAnswer returns a plain text answer.
func TextAnswer(text string) *Answer {
	return &Answer{Answer: text}
}

// ImageAnswer returns a structured image answer. images may be empty but the
// field is always present in the JSON encoding.
func ImageAnswer(text string, images []ImageRef) *Answer {
	if images == nil {
		images = []ImageRef{}
	}
	return &Answer{Answer: text, Images: images}
}
