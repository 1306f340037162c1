package cwlogs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	opPutLogEvents    = "PutLogEvents"
	opCreateLogStream = "CreateLogStream"
	opCreateLogGroup  = "CreateLogGroup"
)

// CloudWatchAPI is the subset of *cloudwatchlogs.Client used by
// CloudWatchTransport.
type CloudWatchAPI interface {
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
}

// CloudWatchTransport implements Transport on the CloudWatch Logs API.
type CloudWatchTransport struct {
	api CloudWatchAPI

	// CreateGroup makes CreateStream create a missing log group before
	// creating the stream.
	CreateGroup bool
}

// NewCloudWatchTransport loads the default AWS configuration, applying
// optFns (for example config.WithRegion), and returns a transport using a
// CloudWatch Logs client built from it.
func NewCloudWatchTransport(ctx context.Context, optFns ...func(*config.LoadOptions) error) (*CloudWatchTransport, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewCloudWatchTransportFromAPI(cloudwatchlogs.NewFromConfig(cfg)), nil
}

// NewCloudWatchTransportFromAPI wraps an existing client.
func NewCloudWatchTransportFromAPI(api CloudWatchAPI) *CloudWatchTransport {
	return &CloudWatchTransport{api: api}
}

// PutEvents implements Transport.
func (t *CloudWatchTransport) PutEvents(ctx context.Context, group, stream string, events []Event, token *string) (*string, error) {
	in := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
		LogEvents:     make([]types.InputLogEvent, len(events)),
		SequenceToken: token,
	}
	for i := 0; i < len(events); i++ {
		in.LogEvents[i] = types.InputLogEvent{
			Message:   aws.String(events[i].Message),
			Timestamp: aws.Int64(events[i].Timestamp),
		}
	}

	out, err := t.api.PutLogEvents(ctx, in)
	if err != nil {
		return nil, classify(opPutLogEvents, err)
	}

	// the call succeeded, but the service may have refused some events
	if info := out.RejectedLogEventsInfo; info != nil {
		reportRejected(group, stream, info)
	}

	return out.NextSequenceToken, nil
}

// CreateStream implements Transport.
func (t *CloudWatchTransport) CreateStream(ctx context.Context, group, stream string) error {
	err := t.createStream(ctx, group, stream)
	if !t.CreateGroup || !errors.Is(err, ErrStreamNotFound) {
		return err
	}

	// the group is what is missing
	_, gerr := t.api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(group),
	})
	if gerr = classify(opCreateLogGroup, gerr); gerr != nil && !errors.Is(gerr, ErrAlreadyExists) {
		return gerr
	}

	return t.createStream(ctx, group, stream)
}

func (t *CloudWatchTransport) createStream(ctx context.Context, group, stream string) error {
	_, err := t.api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	return classify(opCreateLogStream, err)
}

func reportRejected(group, stream string, info *types.RejectedLogEventsInfo) {
	if i := info.TooOldLogEventEndIndex; i != nil {
		InternalLogger().Printf("%s/%s: events before index %d rejected: too old\n", group, stream, *i)
	}
	if i := info.ExpiredLogEventEndIndex; i != nil {
		InternalLogger().Printf("%s/%s: events before index %d rejected: past retention\n", group, stream, *i)
	}
	if i := info.TooNewLogEventStartIndex; i != nil {
		InternalLogger().Printf("%s/%s: events from index %d rejected: too new\n", group, stream, *i)
	}
}
