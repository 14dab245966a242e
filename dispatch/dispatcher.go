// Package dispatch turns decoded client requests into server responses.
package dispatch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/storage"
)

// Download is a file the server must stream after acknowledging a
// DOWNLOAD request.
type Download struct {
	UserID     uint16
	FeedNumber uint16

	// Port is the client UDP port the chunks go to
	Port     uint16
	FileName string
	Data     []byte
}

// Result is the outcome of one request.
type Result struct {
	Response protocol.Response

	// Err is the reason Response is an ErrorResponse, nil on success
	Err error

	// Download is set for accepted DOWNLOAD requests
	Download *Download
}

// Code returns the error code sent to the client, NoError on success.
func (r Result) Code() protocol.ErrorCode {
	if e, ok := r.Response.(*protocol.ErrorResponse); ok {
		return e.Code
	}

	return protocol.NoError
}

type Dispatcher struct {
	store storage.Store

	// uploadPort is announced in UPLOAD acknowledgements
	uploadPort uint16

	log *zap.Logger
}

func New(store storage.Store, uploadPort uint16, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		store:      store,
		uploadPort: uploadPort,
		log:        log,
	}
}

// Dispatch serves req against the store. Rejected requests leave the store
// unchanged and are answered with an ErrorResponse.
func (d *Dispatcher) Dispatch(req protocol.Request) Result {
	switch r := req.(type) {
	case *protocol.RegistrationRequest:
		id, err := d.store.RegisterUser(r.Pseudo)
		if err != nil {
			return d.fail(req, err)
		}

		return ok(&protocol.AckResponse{Type: protocol.Registration, UserID: id})

	case *protocol.PostRequest:
		feed, err := d.store.CreatePost(r.UserID, r.FeedNumber, r.Data)
		if err != nil {
			return d.fail(req, err)
		}

		return ok(&protocol.AckResponse{Type: protocol.NewPost, UserID: r.UserID, FeedNumber: feed})

	case *protocol.LastPostsRequest:
		feed, entries, err := d.store.LastPosts(r.UserID, r.FeedNumber, r.Count)
		if err != nil {
			return d.fail(req, err)
		}

		return ok(&protocol.LastPostsResponse{UserID: r.UserID, FeedNumber: feed, Posts: entries})

	case *protocol.SubscribeRequest:
		sub, err := d.store.Subscribe(r.UserID, r.FeedNumber)
		if err != nil {
			return d.fail(req, err)
		}

		return ok(&protocol.SubscribeResponse{
			UserID:     r.UserID,
			FeedNumber: sub.FeedNumber,
			Port:       sub.Port,
			Addr:       sub.Addr,
		})

	case *protocol.UploadRequest:
		if err := d.store.StartUpload(r.UserID, r.FeedNumber, r.FileName); err != nil {
			return d.fail(req, err)
		}

		return ok(&protocol.AckResponse{
			Type:       protocol.Upload,
			UserID:     r.UserID,
			FeedNumber: r.FeedNumber,
			Count:      d.uploadPort,
		})

	case *protocol.DownloadRequest:
		data, err := d.store.OpenDownload(r.UserID, r.FeedNumber, r.FileName)
		if err != nil {
			return d.fail(req, err)
		}

		res := ok(&protocol.AckResponse{
			Type:       protocol.Download,
			UserID:     r.UserID,
			FeedNumber: r.FeedNumber,
			Count:      r.Port,
		})

		res.Download = &Download{
			UserID:     r.UserID,
			FeedNumber: r.FeedNumber,
			Port:       r.Port,
			FileName:   r.FileName,
			Data:       data,
		}

		return res

	default:
		return d.fail(req, protocol.ErrUnknownType)
	}
}

func ok(resp protocol.Response) Result {
	return Result{Response: resp}
}

// fail maps err to an error response. Errors that are not protocol error
// codes are internal and answered with ERR_NOTCOMPLET.
func (d *Dispatcher) fail(req protocol.Request, err error) Result {
	var code protocol.ErrorCode
	if !errors.As(err, &code) {
		fields := []zap.Field{zap.Error(err)}
		if req != nil {
			fields = append(fields, zap.Stringer("header", req.GetHeader()))
		}

		d.log.Error("Failed to serve request", fields...)

		code = protocol.ErrNotComplete
	}

	return Result{
		Response: &protocol.ErrorResponse{Code: code},
		Err:      err,
	}
}
