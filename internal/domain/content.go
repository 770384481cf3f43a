package domain

// ContentInfo is the resource metadata learned from the first response of
// a fetch. TotalLength is -1 while unknown.
type ContentInfo struct {
	TotalLength   int64  `json:"totalLength"`
	ContentType   string `json:"contentType"`
	AcceptsRanges bool   `json:"acceptsRanges"`
}

func (c ContentInfo) KnownLength() bool { return c.TotalLength >= 0 }
