package wizard

// ImageSet is the ordered list of uploaded image URLs. Index 0 is the
// primary image.
type ImageSet []string

func (s *ImageSet) Append(urls ...string) {
	*s = append(*s, urls...)
}

// Remove drops the image at i. Removing the primary promotes the next image.
func (s *ImageSet) Remove(i int) error {
	if i < 0 || i >= len(*s) {
		return ErrIndexOutOfRange
	}
	*s = append((*s)[:i:i], (*s)[i+1:]...)
	return nil
}

// SetPrimary swaps the image at i with the current primary.
func (s ImageSet) SetPrimary(i int) error {
	if i < 0 || i >= len(s) {
		return ErrIndexOutOfRange
	}
	s[0], s[i] = s[i], s[0]
	return nil
}

func (s ImageSet) Primary() (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	return s[0], true
}

func (s ImageSet) clone() []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
