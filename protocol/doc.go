// Package protocol implements parsing and serialising payloads for the
// binary protocol that Megaphone clients and servers speak.
//
// The protocol aims to be
//
// - compact, every field has a fixed width except the data tail
// - cheap to parse with bounds checked cursors (see Encoder and Decoder)
// - usable from both a TCP stream and UDP datagrams
//
// Terms
//
// - `Header` - 16 bits present at the start of every request and most
//              responses. The low 5 bits are the request type, the high
//              11 bits are the user id.
// - `Request` - A client instruction sent to the server over TCP.
// - `Response` - The reply of the server to a request.
// - `Chunk` - One 512 byte (at most) slice of a file, sent over UDP.
// - `Notification` - A post pushed by the server to a multicast group.
//
// === General syntax
//
// - multi-byte integers are big-endian
// - TCP messages are terminated by `\r\n`, a bare `\r` is accepted too
// - UDP messages are whole datagrams and carry no terminator
// - variable length data is preceded by a one byte length (0-255)
//
// Frame boundaries on TCP are derived from the message layout: the
// terminator is expected right after the last byte of the layout, so binary
// payloads may contain `\r` or `\n`.
//
// === Request types
//
//   1 REGISTRATION, 2 NEWPOST, 3 LASTPOSTS, 4 SUBSCRIBE, 5 UPLOAD, 6 DOWNLOAD
//
// Errors reuse the type slot of the header with a code in 0x19-0x1F, see
// ErrorCode.
//
// === REGISTRATION
//
//   > <header:2><pseudo:10>\r\n
//   < <header:2><feed:2><count:2>\r\n        header id is the new user id
//
// === NEWPOST, LASTPOSTS, SUBSCRIBE, UPLOAD, DOWNLOAD
//
//   > <header:2><feed:2><count:2><datalen:1><data:datalen>\r\n
//
// NEWPOST, UPLOAD and DOWNLOAD are acknowledged with
//
//   < <header:2><feed:2><count:2>\r\n
//
// For UPLOAD `count` is the UDP port to send chunks to. For DOWNLOAD
// `count` is the client's UDP port the server will send chunks to.
//
// LASTPOSTS is answered by a summary followed by `count` post entries
//
//   < <header:2><feed:2><count:2>\r\n
//   < <feed:2><creator:10><author:10><datalen:1><data:datalen>\r\n   (count times)
//
// SUBSCRIBE is answered with the multicast group of the feed
//
//   < <header:2><feed:2><port:2><addr:16>\r\n
//
// === Chunks (UDP)
//
//   <header:2><block:2><data:0-512>
//
// Blocks are numbered from 1. A chunk shorter than 512 bytes is the last one.
//
// === Notifications (UDP multicast)
//
//   <header:2><feed:2><author:10><data:20>
//
package protocol
