package transfer

import "io"

// progressReader counts bytes moving through an io.Reader and reports them
// to a callback. Used on response bodies for downloads and request bodies
// for uploads.
type progressReader struct {
	r          io.Reader
	loaded     int64
	total      int64
	onProgress func(loaded, total int64)
}

func newProgressReader(r io.Reader, total int64, onProgress func(loaded, total int64)) *progressReader {
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.loaded, p.total)
		}
	}
	return n, err
}
