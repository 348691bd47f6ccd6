package profile

import "testing"

// The writer values are persisted; renumbering them would corrupt stored
// provenance. Pin every value.
func TestWriterValuesAreStable(t *testing.T) {
	values := map[Writer]int{
		WriterLocalUser:            0,
		WriterProfileFetch:         1,
		WriterStorageService:       2,
		WriterSyncMessage:          3,
		WriterRegistration:         4,
		WriterLinking:              5,
		WriterGroupState:           6,
		WriterReupload:             7,
		WriterAvatarDownload:       8,
		WriterMetadataUpdate:       9,
		WriterDebugging:            10,
		WriterTests:                11,
		WriterUnknown:              12,
		WriterSystemContactsFetch:  13,
		WriterChangePhoneNumber:    14,
		WriterMessageBackupRestore: 15,
	}
	for w, want := range values {
		if int(w) != want {
			t.Fatalf("%s = %d, want %d", w, int(w), want)
		}
	}
	if len(values) != 16 {
		t.Fatalf("expected 16 writer values, have %d", len(values))
	}
}

func TestWriterString(t *testing.T) {
	if WriterReupload.String() != "reupload" {
		t.Fatalf("unexpected name %q", WriterReupload.String())
	}
	if Writer(99).Valid() {
		t.Fatal("unknown writer should not validate")
	}
	if Writer(99).String() != "writer(99)" {
		t.Fatalf("unexpected fallback name %q", Writer(99).String())
	}
}
