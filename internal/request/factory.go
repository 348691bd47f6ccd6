package request

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
)

// Enclave selects one of the remote-attestation backends. The three share a
// request shape and differ only in path.
type Enclave int

const (
	EnclaveKeyBackup Enclave = iota
	EnclaveCDSI
	EnclaveSVR2
)

func (e Enclave) String() string {
	switch e {
	case EnclaveKeyBackup:
		return "keybackup"
	case EnclaveCDSI:
		return "cdsi"
	case EnclaveSVR2:
		return "svr2"
	default:
		return fmt.Sprintf("enclave(%d)", int(e))
	}
}

// DeviceMessage is one per-device ciphertext envelope of a single-recipient
// submission.
type DeviceMessage struct {
	Type                      int    `json:"type"`
	DestinationDeviceID       uint32 `json:"destinationDeviceId"`
	DestinationRegistrationID uint32 `json:"destinationRegistrationId"`
	Content                   []byte `json:"content"`
}

// SignedPreKeyUpload is the wire form of a signed prekey registration.
type SignedPreKeyUpload struct {
	ID        int    `json:"keyId"`
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

// SubmitMessageParams parameterizes a single-recipient message submission.
// AccessKey nil means the caller resolved no unidentified access for the
// recipient and the request uses identified auth.
type SubmitMessageParams struct {
	Recipient ident.ServiceID
	Messages  []DeviceMessage
	Timestamp int64
	Online    bool
	Urgent    bool
	Story     bool
	AccessKey *crypto.AccessKey
}

// MultiRecipientParams parameterizes a sealed multi-recipient submission.
// The composite access key is mandatory: multi-recipient sends are always
// sender-anonymous.
type MultiRecipientParams struct {
	Ciphertext []byte
	AccessKey  crypto.AccessKey
	Timestamp  int64
	Online     bool
	Urgent     bool
	Story      bool
}

func get(path string) Descriptor {
	return Descriptor{Method: http.MethodGet, Path: path, Auth: AuthIdentified()}
}

func getUnauthenticated(path string) Descriptor {
	return Descriptor{Method: http.MethodGet, Path: path, Auth: AuthNone()}
}

func jsonBody(payload any) ([]byte, http.Header, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode body: %v", ErrInvalidInput, err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return data, headers, nil
}

// Disable2FA removes registration lock from the account.
func Disable2FA() Descriptor {
	return Descriptor{Method: http.MethodDelete, Path: "/v1/accounts/2fa", Auth: AuthIdentified()}
}

// AckMessageDelivery acknowledges delivery of a message by its server GUID.
func AckMessageDelivery(serverGUID string) (Descriptor, error) {
	guid := strings.TrimSpace(serverGUID)
	if guid == "" {
		return Descriptor{}, fmt.Errorf("%w: empty server guid", ErrInvalidInput)
	}
	return Descriptor{
		Method: http.MethodDelete,
		Path:   "/v1/messages/uuid/" + url.PathEscape(guid),
		Auth:   AuthIdentified(),
	}, nil
}

// GetDevices lists the account's linked devices. Inherently self-scoped,
// so always identified.
func GetDevices() Descriptor {
	return get("/v1/devices")
}

// GetMessages polls the account's message queue.
func GetMessages() Descriptor {
	return get("/v1/messages")
}

// GetUnversionedProfile fetches a peer's profile by service id alone.
func GetUnversionedProfile(id ident.ServiceID, accessKey *crypto.AccessKey) (Descriptor, error) {
	if id.IsZero() {
		return Descriptor{}, fmt.Errorf("%w: zero service id", ErrInvalidInput)
	}
	return Descriptor{
		Method: http.MethodGet,
		Path:   "/v1/profile/" + id.String(),
		Auth:   optionalAuth(accessKey),
	}, nil
}

// GetVersionedProfile fetches a profile pinned to a profile-key version,
// optionally requesting a zero-knowledge credential with the supplied blob.
func GetVersionedProfile(aci ident.ServiceID, profileKeyVersion string, credentialRequest []byte, accessKey *crypto.AccessKey) (Descriptor, error) {
	if aci.IsZero() {
		return Descriptor{}, fmt.Errorf("%w: zero service id", ErrInvalidInput)
	}
	path := "/v1/profile/" + aci.String()
	if profileKeyVersion != "" {
		path += "/" + url.PathEscape(profileKeyVersion)
		if len(credentialRequest) > 0 {
			path += "/" + hex.EncodeToString(credentialRequest)
		}
	} else if len(credentialRequest) > 0 {
		return Descriptor{}, fmt.Errorf("%w: credential request without profile key version", ErrInvalidInput)
	}
	query := url.Values{}
	if len(credentialRequest) > 0 {
		query.Set("credentialType", "expiringProfileKey")
	}
	return Descriptor{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Auth:   optionalAuth(accessKey),
	}, nil
}

// TURNServerInfo fetches relay server candidates for calls.
func TURNServerInfo() Descriptor {
	return getUnauthenticated("/v1/calling/relays")
}

// AllocAttachment requests an attachment upload slot.
func AllocAttachment() Descriptor {
	return get("/v4/attachments/form/upload")
}

// AvatarUploadForm fetches the CDN form for a profile avatar upload.
func AvatarUploadForm() Descriptor {
	return get("/v1/profile/form/avatar")
}

// RegisterForPush registers the device push identifier, with an optional
// voip identifier for call pushes.
func RegisterForPush(pushID, voipID string) (Descriptor, error) {
	if strings.TrimSpace(pushID) == "" {
		return Descriptor{}, fmt.Errorf("%w: empty push identifier", ErrInvalidInput)
	}
	payload := map[string]string{"pushId": pushID}
	if voipID != "" {
		payload["voipId"] = voipID
	}
	body, headers, err := jsonBody(payload)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Method:  http.MethodPut,
		Path:    "/v1/accounts/push",
		Headers: headers,
		Body:    body,
		Auth:    AuthIdentified(),
	}, nil
}

// UnregisterAccount deletes the account registration.
func UnregisterAccount() Descriptor {
	return Descriptor{Method: http.MethodDelete, Path: "/v1/accounts/me", Auth: AuthIdentified()}
}

// SubmitMessage builds a single-recipient encrypted message submission.
func SubmitMessage(p SubmitMessageParams) (Descriptor, error) {
	if p.Recipient.IsZero() {
		return Descriptor{}, fmt.Errorf("%w: zero recipient", ErrInvalidInput)
	}
	if len(p.Messages) == 0 {
		return Descriptor{}, fmt.Errorf("%w: no device messages", ErrInvalidInput)
	}
	if p.Timestamp <= 0 {
		return Descriptor{}, fmt.Errorf("%w: timestamp must be positive", ErrInvalidInput)
	}
	payload := map[string]any{
		"destination": p.Recipient.String(),
		"messages":    p.Messages,
		"timestamp":   p.Timestamp,
		"online":      p.Online,
		"urgent":      p.Urgent,
	}
	body, headers, err := jsonBody(payload)
	if err != nil {
		return Descriptor{}, err
	}
	query := url.Values{}
	if p.Story {
		query.Set("story", "true")
	}
	return Descriptor{
		Method:  http.MethodPut,
		Path:    "/v1/messages/" + p.Recipient.String(),
		Query:   query,
		Headers: headers,
		Body:    body,
		Auth:    optionalAuth(p.AccessKey),
	}, nil
}

// SubmitMultiRecipientMessage builds a sealed multi-recipient submission.
// The composite access key is required; a zero key fails validation rather
// than silently downgrading to identified auth.
func SubmitMultiRecipientMessage(p MultiRecipientParams) (Descriptor, error) {
	if len(p.Ciphertext) == 0 {
		return Descriptor{}, fmt.Errorf("%w: empty ciphertext", ErrInvalidInput)
	}
	if p.AccessKey.IsZero() {
		return Descriptor{}, fmt.Errorf("%w: composite access key is required", ErrInvalidInput)
	}
	if p.Timestamp <= 0 {
		return Descriptor{}, fmt.Errorf("%w: timestamp must be positive", ErrInvalidInput)
	}
	query := url.Values{}
	query.Set("ts", strconv.FormatInt(p.Timestamp, 10))
	query.Set("online", strconv.FormatBool(p.Online))
	query.Set("urgent", strconv.FormatBool(p.Urgent))
	query.Set("story", strconv.FormatBool(p.Story))
	headers := http.Header{}
	headers.Set("Content-Type", "application/vnd.kestrel-messenger.mrm")
	return Descriptor{
		Method:  http.MethodPut,
		Path:    "/v1/messages/multi_recipient",
		Query:   query,
		Headers: headers,
		Body:    p.Ciphertext,
		Auth:    AuthUnidentified(p.AccessKey),
	}, nil
}

// CurrencyConversions fetches payment currency conversion rates.
func CurrencyConversions() Descriptor {
	return get("/v1/payments/conversions")
}

// Prekeys

// AvailablePreKeyCount queries how many one-time prekeys remain uploaded
// for the given identity scope.
func AvailablePreKeyCount(identity ident.IdentityType) (Descriptor, error) {
	if !identity.Valid() {
		return Descriptor{}, fmt.Errorf("%w: unknown identity type", ErrInvalidInput)
	}
	query := url.Values{}
	query.Set("identity", identity.String())
	return Descriptor{
		Method: http.MethodGet,
		Path:   "/v2/keys",
		Query:  query,
		Auth:   AuthIdentified(),
	}, nil
}

// CurrentSignedPreKey fetches the currently registered signed prekey.
func CurrentSignedPreKey() Descriptor {
	return get("/v2/keys/signed")
}

// RecipientPreKeys fetches a recipient device's prekey bundle.
func RecipientPreKeys(id ident.ServiceID, deviceID uint32, accessKey *crypto.AccessKey) (Descriptor, error) {
	if id.IsZero() {
		return Descriptor{}, fmt.Errorf("%w: zero service id", ErrInvalidInput)
	}
	if deviceID == 0 {
		return Descriptor{}, fmt.Errorf("%w: zero device id", ErrInvalidInput)
	}
	return Descriptor{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/v2/keys/%s/%d", id, deviceID),
		Auth:   optionalAuth(accessKey),
	}, nil
}

// RegisterSignedPreKey uploads a new signed prekey for the identity scope.
func RegisterSignedPreKey(identity ident.IdentityType, upload SignedPreKeyUpload) (Descriptor, error) {
	if !identity.Valid() {
		return Descriptor{}, fmt.Errorf("%w: unknown identity type", ErrInvalidInput)
	}
	if upload.ID <= 0 {
		return Descriptor{}, fmt.Errorf("%w: signed prekey id must be positive", ErrInvalidInput)
	}
	if len(upload.PublicKey) == 0 || len(upload.Signature) == 0 {
		return Descriptor{}, fmt.Errorf("%w: signed prekey requires public key and signature", ErrInvalidInput)
	}
	body, headers, err := jsonBody(upload)
	if err != nil {
		return Descriptor{}, err
	}
	query := url.Values{}
	query.Set("identity", identity.String())
	return Descriptor{
		Method:  http.MethodPut,
		Path:    "/v2/keys/signed",
		Query:   query,
		Headers: headers,
		Body:    body,
		Auth:    AuthIdentified(),
	}, nil
}

// Storage service

// StorageAuth requests credentials for the storage service.
func StorageAuth() Descriptor {
	return get("/v1/storage/auth")
}

// Remote attestation

// RemoteAttestationAuth requests attestation credentials for one of the
// three backend enclaves.
func RemoteAttestationAuth(enclave Enclave) (Descriptor, error) {
	var path string
	switch enclave {
	case EnclaveKeyBackup:
		path = "/v1/backup/auth"
	case EnclaveCDSI:
		path = "/v2/directory/auth"
	case EnclaveSVR2:
		path = "/v2/svr/auth"
	default:
		return Descriptor{}, fmt.Errorf("%w: unknown enclave", ErrInvalidInput)
	}
	return get(path), nil
}

// Unidentified delivery

// SenderCertificate requests a sender certificate. With uuidOnly the
// certificate omits the phone number.
func SenderCertificate(uuidOnly bool) Descriptor {
	query := url.Values{}
	query.Set("includeE164", strconv.FormatBool(!uuidOnly))
	return Descriptor{
		Method: http.MethodGet,
		Path:   "/v1/certificate/delivery",
		Query:  query,
		Auth:   AuthIdentified(),
	}
}

// Profiles

// SetProfileName uploads the encrypted, padded profile name.
func SetProfileName(encryptedName []byte) (Descriptor, error) {
	if len(encryptedName) == 0 {
		return Descriptor{}, fmt.Errorf("%w: empty encrypted name", ErrInvalidInput)
	}
	return Descriptor{
		Method: http.MethodPut,
		Path:   "/v1/profile/name/" + base64.RawURLEncoding.EncodeToString(encryptedName),
		Auth:   AuthIdentified(),
	}, nil
}

// Remote config

// RemoteConfig fetches the feature flag set.
func RemoteConfig() Descriptor {
	return getUnauthenticated("/v1/config")
}

// Groups

// GroupCredentials requests a batch of group auth credentials covering the
// redemption window. Precondition: from <= to, in epoch seconds; an
// inverted range is rejected, never swapped.
func GroupCredentials(fromRedemptionSeconds, toRedemptionSeconds int64) (Descriptor, error) {
	if fromRedemptionSeconds < 0 || toRedemptionSeconds < 0 {
		return Descriptor{}, fmt.Errorf("%w: negative redemption time", ErrInvalidInput)
	}
	if fromRedemptionSeconds > toRedemptionSeconds {
		return Descriptor{}, fmt.Errorf("%w: inverted redemption range", ErrInvalidInput)
	}
	query := url.Values{}
	query.Set("redemptionStartSeconds", strconv.FormatInt(fromRedemptionSeconds, 10))
	query.Set("redemptionEndSeconds", strconv.FormatInt(toRedemptionSeconds, 10))
	return Descriptor{
		Method: http.MethodGet,
		Path:   "/v1/certificate/auth/group",
		Query:  query,
		Auth:   AuthIdentified(),
	}, nil
}

// Payments

// PaymentsAuth requests the payments service auth credential.
func PaymentsAuth() Descriptor {
	return get("/v1/payments/auth")
}

// Spam challenges

// PushChallenge asks the service to send a rate-limit push challenge.
func PushChallenge() Descriptor {
	return Descriptor{Method: http.MethodPost, Path: "/v1/challenge/push", Auth: AuthIdentified()}
}

// PushChallengeResponse answers a push challenge with its token.
func PushChallengeResponse(token string) (Descriptor, error) {
	if strings.TrimSpace(token) == "" {
		return Descriptor{}, fmt.Errorf("%w: empty challenge token", ErrInvalidInput)
	}
	body, headers, err := jsonBody(map[string]string{
		"type":      "rateLimitPushChallenge",
		"challenge": token,
	})
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Method:  http.MethodPut,
		Path:    "/v1/challenge",
		Headers: headers,
		Body:    body,
		Auth:    AuthIdentified(),
	}, nil
}

// CaptchaChallengeResponse answers a captcha challenge with the server
// token and the solved captcha token.
func CaptchaChallengeResponse(serverToken, captchaToken string) (Descriptor, error) {
	if strings.TrimSpace(serverToken) == "" || strings.TrimSpace(captchaToken) == "" {
		return Descriptor{}, fmt.Errorf("%w: both server token and captcha token are required", ErrInvalidInput)
	}
	body, headers, err := jsonBody(map[string]string{
		"type":    "captcha",
		"token":   serverToken,
		"captcha": captchaToken,
	})
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Method:  http.MethodPut,
		Path:    "/v1/challenge",
		Headers: headers,
		Body:    body,
		Auth:    AuthIdentified(),
	}, nil
}
