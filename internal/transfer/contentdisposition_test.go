package transfer

import "testing"

func TestFilenameFromContentDisposition(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		fallback string
		want     string
	}{
		{
			name:     "rfc5987 utf8",
			header:   `attachment; filename*=UTF-8''%E6%B5%8B%E8%AF%95.zip`,
			fallback: "default.zip",
			want:     "测试.zip",
		},
		{
			name:     "quoted filename",
			header:   `attachment; filename="backup.tar.gz"`,
			fallback: "default.zip",
			want:     "backup.tar.gz",
		},
		{
			name:     "bare filename",
			header:   `attachment; filename=world.zip`,
			fallback: "default.zip",
			want:     "world.zip",
		},
		{
			name:     "extended preferred over plain",
			header:   `attachment; filename="fallback.bin"; filename*=UTF-8''server%20map.zip`,
			fallback: "default.zip",
			want:     "server map.zip",
		},
		{
			name:     "missing header",
			header:   "",
			fallback: "default.zip",
			want:     "default.zip",
		},
		{
			name:     "no filename attribute",
			header:   "attachment",
			fallback: "default.zip",
			want:     "default.zip",
		},
		{
			name:     "broken extended falls back to plain",
			header:   `attachment; filename*=UTF-8''%ZZbad; filename="plain.txt"`,
			fallback: "default.zip",
			want:     "plain.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilenameFromContentDisposition(tt.header, tt.fallback)
			if got != tt.want {
				t.Errorf("FilenameFromContentDisposition(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
