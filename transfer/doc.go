// Package transfer moves files over UDP as 512 byte chunks.
//
// A file is split into numbered packets (see Split). The receiver stores
// packets in a sparse Assembler and the transfer is complete once a short
// packet fixed the last block number and every block up to it arrived.
// There is no acknowledgement or retransmission, a transfer that stalls for
// longer than the Table timeout is abandoned.
package transfer
