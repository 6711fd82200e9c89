package dashboard

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/specexplorer/specsync/internal/sync"
)

// OnState broadcasts an engine state change. It is registered as an engine
// listener by Start.
func (s *Server) OnState(st sync.State) {
	data, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("failed to marshal state", zap.Error(err))
		return
	}
	s.Broadcast(Message{
		Type:      MessageTypeState,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// OnSyncRequested reports the result of a cycle started over HTTP.
func (s *Server) OnSyncRequested(tenant string, accepted bool) {
	data, err := json.Marshal(SyncRequestedData{Tenant: tenant, Accepted: accepted})
	if err != nil {
		s.logger.Error("failed to marshal sync result", zap.Error(err))
		return
	}
	s.Broadcast(Message{
		Type:      MessageTypeSyncRequested,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func stateMessage(st sync.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:      MessageTypeState,
		Timestamp: time.Now(),
		Data:      data,
	})
}
