package blob

import "testing"

func TestKeyFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{
			name: "standard object url",
			url:  "https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf",
			want: "path/to/file.pdf",
		},
		{
			name: "nested document key",
			url:  "https://docs.s3.eu-west-1.amazonaws.com/abc-123/report.txt",
			want: "abc-123/report.txt",
		},
		{
			name:    "no key",
			url:     "https://my-bucket.s3.us-east-2.amazonaws.com/",
			wantErr: true,
		},
		{
			name:    "not a url",
			url:     "://bad",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := keyFromURL(tc.url)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("keyFromURL(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}
