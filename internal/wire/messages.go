package wire

import "io"

// Frame type tags. Tags are exactly four ASCII bytes on the wire.
const (
	// TagStatus carries an operation result; an empty message means
	// success, anything else is the failure reason.
	TagStatus = "STAT"

	// TagRegister creates a new account.
	TagRegister = "RGTR"

	// TagLogin authenticates an existing account.
	TagLogin = "LGIN"

	// TagAddContact adds a contact to the authenticated user.
	TagAddContact = "ADDC"

	// TagListContacts asks for the online mutual contacts.
	TagListContacts = "LCPN"

	// TagContactList is the coordinator's reply to TagListContacts.
	TagContactList = "LCRN"

	// TagTransferRequest asks the coordinator to enqueue a transfer
	// request for a recipient.
	TagTransferRequest = "FTRP"

	// TagPollRequests asks the coordinator for pending transfer
	// requests addressed to the caller.
	TagPollRequests = "FTCR"

	// TagPendingRequests is the coordinator's reply to TagPollRequests.
	TagPendingRequests = "FTRR"

	// TagAcceptRequest accepts one pending request by sender email, or
	// denies all pending requests when the email is empty.
	TagAcceptRequest = "FTAR"

	// TagToken delivers the transfer token to the accepting recipient.
	TagToken = "FTEA"

	// TagListenPort reports the recipient's chosen listen port back to
	// the coordinator.
	TagListenPort = "FTSP"

	// TagPortToken delivers port and token to the sender. An empty
	// token means the recipient declined.
	TagPortToken = "FTPT"

	// TagFileOffer opens the peer-to-peer transfer: file metadata plus
	// the rendezvous token.
	TagFileOffer = "FTPF"

	// TagFileChunk carries one base64 file chunk on the peer-to-peer
	// stream.
	TagFileChunk = "FTPC"
)

// ChunkSize is the number of file bytes carried per chunk frame, before
// base64 encoding.
const ChunkSize = 4096

// Status reports the outcome of an operation.
type Status struct {
	Message string `json:"message"`
}

// Register is the account creation request.
type Register struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login is the authentication request.
type Login struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AddContact adds one contact for the authenticated user.
type AddContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ListContacts requests the caller's online mutual contacts.
type ListContacts struct{}

// ContactList maps contact email to display name.
type ContactList struct {
	Contacts map[string]string `json:"contacts"`
}

// FileInfo describes a file offered for transfer.
type FileInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"SHA256"`
}

// TransferRequest asks the coordinator to enqueue a transfer toward a
// recipient.
type TransferRequest struct {
	RecipientEmail string   `json:"recipient_email"`
	FileInfo       FileInfo `json:"file_info"`
}

// PollRequests asks for pending transfer requests.
type PollRequests struct{}

// PendingRequests maps sender email to the offered file.
type PendingRequests struct {
	Requests map[string]FileInfo `json:"requests"`
}

// AcceptRequest accepts the request from SenderEmail, or denies all
// pending requests when SenderEmail is empty.
type AcceptRequest struct {
	SenderEmail string `json:"sender_email"`
}

// Token carries the rendezvous token to the recipient.
type Token struct {
	Token string `json:"token"`
}

// ListenPort reports the port the recipient's receiver is bound to.
type ListenPort struct {
	Port int `json:"port"`
}

// PortToken delivers the rendezvous to the sender. A zero port and
// empty token mean the recipient declined.
type PortToken struct {
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// OfferInfo describes the file on the peer-to-peer stream. Unlike
// FileInfo it carries the chunk count rather than the byte size.
type OfferInfo struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
	SHA256 string `json:"SHA256"`
}

// FileOffer is the first frame on the peer-to-peer stream.
type FileOffer struct {
	FileInfo OfferInfo `json:"file_info"`
	Token    string    `json:"token"`
}

// FileChunk carries one chunk of file data. The slice is base64 encoded
// by the JSON marshaller.
type FileChunk struct {
	Chunk []byte `json:"chunk"`
}

// WriteStatus writes a STAT frame carrying msg.
func WriteStatus(w io.Writer, msg string) error {
	return Write(w, TagStatus, Status{Message: msg})
}
