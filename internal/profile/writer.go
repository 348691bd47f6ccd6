package profile

import "fmt"

// Writer tags the origin of every profile or whitelist mutation for audit
// and consistency reconciliation. Values are persisted: they are
// append-only and must never be renumbered.
type Writer int

const (
	WriterLocalUser            Writer = 0
	WriterProfileFetch         Writer = 1
	WriterStorageService       Writer = 2
	WriterSyncMessage          Writer = 3
	WriterRegistration         Writer = 4
	WriterLinking              Writer = 5
	WriterGroupState           Writer = 6
	WriterReupload             Writer = 7
	WriterAvatarDownload       Writer = 8
	WriterMetadataUpdate       Writer = 9
	WriterDebugging            Writer = 10
	WriterTests                Writer = 11
	WriterUnknown              Writer = 12
	WriterSystemContactsFetch  Writer = 13
	WriterChangePhoneNumber    Writer = 14
	WriterMessageBackupRestore Writer = 15
)

var writerNames = map[Writer]string{
	WriterLocalUser:            "local_user",
	WriterProfileFetch:         "profile_fetch",
	WriterStorageService:       "storage_service",
	WriterSyncMessage:          "sync_message",
	WriterRegistration:         "registration",
	WriterLinking:              "linking",
	WriterGroupState:           "group_state",
	WriterReupload:             "reupload",
	WriterAvatarDownload:       "avatar_download",
	WriterMetadataUpdate:       "metadata_update",
	WriterDebugging:            "debugging",
	WriterTests:                "tests",
	WriterUnknown:              "unknown",
	WriterSystemContactsFetch:  "system_contacts_fetch",
	WriterChangePhoneNumber:    "change_phone_number",
	WriterMessageBackupRestore: "message_backup_restore",
}

func (w Writer) String() string {
	if name, ok := writerNames[w]; ok {
		return name
	}
	return fmt.Sprintf("writer(%d)", int(w))
}

// Valid reports whether w is a known writer value.
func (w Writer) Valid() bool {
	_, ok := writerNames[w]
	return ok
}
