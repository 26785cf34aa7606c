package media

import (
	"context"
	"errors"
	"testing"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		contentType string
		expected    Kind
	}{
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"video/mp4", KindVideo},
		{"application/pdf", KindDocument},
		{"text/plain", KindDocument},
		{"", KindDocument},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := DetectKind(tt.contentType); got != tt.expected {
				t.Errorf("%q: expected %q, got %q", tt.contentType, tt.expected, got)
			}
		})
	}
}

func TestCheckSize(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		fileName    string
		size        int64
		expectedErr error
	}{
		{name: "empty file", kind: KindImage, fileName: "a.png", size: 0, expectedErr: ErrEmptyFile},
		{name: "image at the ceiling", kind: KindImage, fileName: "a.png", size: MaxImageBytes},
		{name: "image over the ceiling", kind: KindImage, fileName: "a.png", size: MaxImageBytes + 1, expectedErr: ErrTooLarge},
		{name: "video at the ceiling", kind: KindVideo, fileName: "a.mp4", size: MaxVideoBytes},
		{name: "video over the ceiling", kind: KindVideo, fileName: "a.mp4", size: MaxVideoBytes + 1, expectedErr: ErrTooLarge},
		{name: "document at the ceiling", kind: KindDocument, fileName: "a.pdf", size: MaxDocumentBytes},
		{name: "document over the ceiling", kind: KindDocument, fileName: "a.pdf", size: MaxDocumentBytes + 1, expectedErr: ErrTooLarge},
		{name: "archive gets the higher ceiling", kind: KindDocument, fileName: "a.zip", size: MaxDocumentBytes + 1},
		{name: "executable gets the higher ceiling", kind: KindDocument, fileName: "setup.EXE", size: MaxDocumentBytes + 1},
		{name: "archive over its ceiling", kind: KindDocument, fileName: "a.zip", size: MaxArchiveBytes + 1, expectedErr: ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckSize(tt.kind, tt.fileName, tt.size); !errors.Is(err, tt.expectedErr) {
				t.Errorf("expected %v, got %v", tt.expectedErr, err)
			}
		})
	}
}

func TestUploadWithoutBucket(t *testing.T) {
	u := NewUploader(nil, nil)
	if _, err := u.Upload(context.Background(), "a.png", "image/png", []byte("x"), 0); !errors.Is(err, ErrNoBucket) {
		t.Errorf("expected ErrNoBucket, got %v", err)
	}
}
