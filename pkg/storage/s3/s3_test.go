package s3

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://logs/app/2024/01/15.log", "logs", "app/2024/01/15.log", false},
		{"s3://bucket/key.gz", "bucket", "key.gz", false},
		{"s3://bucket", "", "", true},
		{"s3://bucket/", "", "", true},
		{"s3:///key", "", "", true},
		{"http://bucket/key", "", "", true},
	}

	for _, tt := range tests {
		bucket, key, err := ParseURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURL(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseURL(%q) = (%q, %q), want (%q, %q)",
				tt.url, bucket, key, tt.bucket, tt.key)
		}
	}
}

func TestIsURL(t *testing.T) {
	if !IsURL("s3://b/k") {
		t.Error("s3://b/k not recognized")
	}
	if IsURL("/var/log/app.log") || IsURL("https://b/k") {
		t.Error("non-S3 path recognized as S3")
	}
}
