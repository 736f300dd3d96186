package service

import "errors"

// Error taxonomy for request/response operations. Handlers map these to
// {success:false, error:"..."} payloads; fire-and-forget handlers never
// surface them to the sender.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMalformedRequest = errors.New("malformed request")
)
