package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestAttemptOf(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"missing", nil, 1},
		{"int32", amqp.Table{attemptHeader: int32(2)}, 2},
		{"int64", amqp.Table{attemptHeader: int64(3)}, 3},
		{"wrong type", amqp.Table{attemptHeader: "3"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, attemptOf(amqp.Delivery{Headers: tc.headers}))
		})
	}
}
