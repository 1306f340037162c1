/*
Package forward implements cwlogs.Transport over the Fluent Forward protocol,
so that the batches a cwlogs.Writer assembles per log stream can be shipped
to a Fluentd or Fluent Bit collector instead of (or in front of) CloudWatch
Logs.

Each batch becomes one Forward mode message:

	[tag, [[time, {"message": msg}], ...], {"size": n}]

or, with Options.Compressed, one CompressedPackedForward mode message whose
entries are gzip compressed:

	[tag, bin(gzip(entries)), {"compressed": "gzip", "size": n}]

The tag is Options.TagPrefix followed by "group.stream". The collector has
no notion of sequence tokens or log streams, so PutEvents always returns a
nil token and CreateStream does nothing.

	ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1
*/
package forward
