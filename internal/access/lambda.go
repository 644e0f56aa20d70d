package access

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/logger"
)

type lambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker calls a Lambda function synchronously.
type LambdaInvoker struct {
	client   lambdaAPI
	function string
}

func NewLambdaInvoker(cfg aws.Config, function string) *LambdaInvoker {
	logger.Info("Lambda classifier initialized", zap.String("function", function))
	return &LambdaInvoker{client: lambda.NewFromConfig(cfg), function: function}
}

func (l *LambdaInvoker) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", l.function, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("invoke %s: function error %s: %s", l.function, aws.ToString(out.FunctionError), out.Payload)
	}
	return out.Payload, nil
}
