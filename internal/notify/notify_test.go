package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nemonet1337/zaiWarehouse/pkg/importer"
	"github.com/nemonet1337/zaiWarehouse/pkg/inventory"
)

func TestRedisPublisher_DeliversToSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	p := NewRedisPublisher(client, WithPrefix("test:"))
	ctx := context.Background()

	sub := client.Subscribe(ctx, p.Channel(ChannelLowStock), p.Channel(ChannelImportDone))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	require.NoError(t, p.PublishLowStock(ctx, inventory.LowStockEvent{ProductID: "p-1", Quantity: 2, Threshold: 5}))
	require.NoError(t, p.NotifyImport(ctx, importer.Summary{JobID: "job-1", Status: importer.StatusDone, Created: 4}))

	receive := func() *redis.Message {
		select {
		case msg := <-ch:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("メッセージを受信できませんでした")
			return nil
		}
	}

	msg := receive()
	assert.Equal(t, "test:low_stock", msg.Channel)
	var low inventory.LowStockEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &low))
	assert.Equal(t, "p-1", low.ProductID)
	assert.Equal(t, int64(2), low.Quantity)

	msg = receive()
	assert.Equal(t, "test:import_done", msg.Channel)
	var summary importer.Summary
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &summary))
	assert.Equal(t, "job-1", summary.JobID)
	assert.Equal(t, 4, summary.Created)
}

func TestLogPublisher_ImportFailuresPerRow(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.NotifyImport(context.Background(), importer.Summary{
		JobID:  "job-2",
		Status: importer.StatusDone,
		Failed: []importer.RowError{
			{Line: 3, Message: "名称が空です"},
			{Line: 7, Message: "価格の形式が不正です"},
		},
	}))

	assert.Equal(t, 1, logs.FilterMessage("取込結果").Len())
	rows := logs.FilterMessage("取込失敗行").All()
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ContextMap()["line"])
	assert.Equal(t, "価格の形式が不正です", rows[1].ContextMap()["reason"])
}

func TestFanout_DeliversToAll(t *testing.T) {
	coreA, logsA := observer.New(zapcore.InfoLevel)
	coreB, logsB := observer.New(zapcore.InfoLevel)
	f := Fanout{NewLogPublisher(zap.New(coreA)), NewLogPublisher(zap.New(coreB))}

	require.NoError(t, f.PublishStockChanged(context.Background(), inventory.StockChangedEvent{ProductID: "p-1", Delta: 3}))
	assert.Equal(t, 1, logsA.FilterMessage("在庫変動").Len())
	assert.Equal(t, 1, logsB.FilterMessage("在庫変動").Len())
}
