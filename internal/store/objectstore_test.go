package store

import "testing"

func TestObjectKeyLayout(t *testing.T) {
	if got, want := documentKey("acme-widgets", "doc-1"), "repositories/acme-widgets/documents/doc-1.json"; got != want {
		t.Errorf("documentKey() = %q, want %q", got, want)
	}
	if got, want := manifestKey("acme-widgets"), "repositories/acme-widgets/manifest.json"; got != want {
		t.Errorf("manifestKey() = %q, want %q", got, want)
	}
}
