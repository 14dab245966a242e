package protocol

// Request is a client request. The set of implementations is closed, use a
// type switch to handle each of them.
type Request interface {
	GetHeader() Header
	GetType() RequestType

	encode(e *Encoder) error
}

type RegistrationRequest struct {
	Pseudo Pseudo
}

func (q *RegistrationRequest) GetHeader() Header {
	return NewHeader(Registration, 0)
}

func (q *RegistrationRequest) GetType() RequestType {
	return Registration
}

func (q *RegistrationRequest) encode(e *Encoder) error {
	e.Header(q.GetHeader())
	e.Raw(q.Pseudo[:])
	return nil
}

// PostRequest appends Data to FeedNumber, 0 creates a new feed.
type PostRequest struct {
	UserID     uint16
	FeedNumber uint16
	Data       []byte
}

func (q *PostRequest) GetHeader() Header {
	return NewHeader(NewPost, q.UserID)
}

func (q *PostRequest) GetType() RequestType {
	return NewPost
}

func (q *PostRequest) encode(e *Encoder) error {
	return encodeGeneric(e, q.GetHeader(), q.FeedNumber, 0, q.Data)
}

// LastPostsRequest asks for the Count newest posts of FeedNumber. Zero
// values mean every feed and every post.
type LastPostsRequest struct {
	UserID     uint16
	FeedNumber uint16
	Count      uint16
}

func (q *LastPostsRequest) GetHeader() Header {
	return NewHeader(LastPosts, q.UserID)
}

func (q *LastPostsRequest) GetType() RequestType {
	return LastPosts
}

func (q *LastPostsRequest) encode(e *Encoder) error {
	return encodeGeneric(e, q.GetHeader(), q.FeedNumber, q.Count, nil)
}

type SubscribeRequest struct {
	UserID     uint16
	FeedNumber uint16
}

func (q *SubscribeRequest) GetHeader() Header {
	return NewHeader(Subscribe, q.UserID)
}

func (q *SubscribeRequest) GetType() RequestType {
	return Subscribe
}

func (q *SubscribeRequest) encode(e *Encoder) error {
	return encodeGeneric(e, q.GetHeader(), q.FeedNumber, 0, nil)
}

// UploadRequest announces a file the client is about to send over UDP.
type UploadRequest struct {
	UserID     uint16
	FeedNumber uint16
	FileName   string
}

func (q *UploadRequest) GetHeader() Header {
	return NewHeader(Upload, q.UserID)
}

func (q *UploadRequest) GetType() RequestType {
	return Upload
}

func (q *UploadRequest) encode(e *Encoder) error {
	return encodeGeneric(e, q.GetHeader(), q.FeedNumber, 0, []byte(q.FileName))
}

// DownloadRequest asks the server to send FileName to the client's UDP Port.
type DownloadRequest struct {
	UserID     uint16
	FeedNumber uint16
	Port       uint16
	FileName   string
}

func (q *DownloadRequest) GetHeader() Header {
	return NewHeader(Download, q.UserID)
}

func (q *DownloadRequest) GetType() RequestType {
	return Download
}

func (q *DownloadRequest) encode(e *Encoder) error {
	return encodeGeneric(e, q.GetHeader(), q.FeedNumber, q.Port, []byte(q.FileName))
}

func encodeGeneric(e *Encoder, h Header, feed, count uint16, data []byte) error {
	e.Header(h)
	e.Uint16(feed)
	e.Uint16(count)
	return e.Data(data)
}

// EncodeRequest serialises a request without its terminator.
func EncodeRequest(req Request) ([]byte, error) {
	e := NewEncoder(7 + MaxDataLen)
	if err := req.encode(e); err != nil {
		return nil, err
	}

	return e.Bytes(), nil
}

// DecodeRequest parses a request from the start of d. It returns
// ErrTruncated (wrapped) when d holds fewer bytes than the layout needs.
func DecodeRequest(d *Decoder) (Request, error) {
	h := d.Header()
	if err := d.Err(); err != nil {
		return nil, err
	}

	if h.Type() == Registration {
		var req RegistrationRequest
		copy(req.Pseudo[:], d.Fixed(PseudoLen))
		if err := d.Err(); err != nil {
			return nil, err
		}

		return &req, nil
	}

	if !h.Type().Valid() {
		return nil, ErrUnknownType
	}

	feed := d.Uint16()
	count := d.Uint16()
	data := d.Data()
	if err := d.Err(); err != nil {
		return nil, err
	}

	id := h.ID()

	switch h.Type() {
	case NewPost:
		return &PostRequest{UserID: id, FeedNumber: feed, Data: data}, nil

	case LastPosts:
		return &LastPostsRequest{UserID: id, FeedNumber: feed, Count: count}, nil

	case Subscribe:
		return &SubscribeRequest{UserID: id, FeedNumber: feed}, nil

	case Upload:
		return &UploadRequest{UserID: id, FeedNumber: feed, FileName: string(data)}, nil

	default:
		return &DownloadRequest{UserID: id, FeedNumber: feed, Port: count, FileName: string(data)}, nil
	}
}

var _ Request = (*RegistrationRequest)(nil)
var _ Request = (*PostRequest)(nil)
var _ Request = (*LastPostsRequest)(nil)
var _ Request = (*SubscribeRequest)(nil)
var _ Request = (*UploadRequest)(nil)
var _ Request = (*DownloadRequest)(nil)
