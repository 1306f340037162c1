// Package localstore implements cwlogs.Transport on a local Pebble database.
//
// It follows the CloudWatch Logs append protocol closely enough to stand in
// for the service in development and offline deployments: appending to a
// stream that was never created fails with cwlogs.ErrStreamNotFound, creating
// it twice fails with cwlogs.ErrAlreadyExists, and every append must carry
// the token returned by the previous one (cwlogs.ErrInvalidSequenceToken
// otherwise, with the expected token attached). Replaying the last batch
// with the previous token fails with cwlogs.ErrDataAlreadyAccepted.
//
// Stored events are read back with Store.Events and listed with
// Store.Streams.
package localstore
