package ws

import (
	"sync"
)

// ConnectionRegistry tracks active WebSocket connections keyed by database
// name so the server can enumerate and tear them down per database.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	databases map[string]map[*Connection]struct{}
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{databases: make(map[string]map[*Connection]struct{})}
}

// Register associates the connection with a database.
func (r *ConnectionRegistry) Register(database string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.databases[database] == nil {
		r.databases[database] = make(map[*Connection]struct{})
	}
	r.databases[database][c] = struct{}{}
	gatewayConnections.WithLabelValues(database).Set(float64(len(r.databases[database])))
}

// Unregister removes the connection.
func (r *ConnectionRegistry) Unregister(database string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.databases[database]
	if conns == nil {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.databases, database)
	}
	gatewayConnections.WithLabelValues(database).Set(float64(len(conns)))
}

// Count reports the number of connections attached to a database.
func (r *ConnectionRegistry) Count(database string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.databases[database])
}

// CloseAll closes every connection attached to a database. It is used when
// a database is deleted while clients are still connected.
func (r *ConnectionRegistry) CloseAll(database string) int {
	r.mu.RLock()
	conns := r.databases[database]
	victims := make([]*Connection, 0, len(conns))
	for c := range conns {
		victims = append(victims, c)
	}
	r.mu.RUnlock()

	for _, c := range victims {
		c.Close()
	}
	return len(victims)
}

// Broadcast delivers an envelope to every connection attached to the
// database, skipping the sender when provided.
func (r *ConnectionRegistry) Broadcast(database, ns string, data any, skip *Connection) int {
	r.mu.RLock()
	conns := r.databases[database]
	if len(conns) == 0 {
		r.mu.RUnlock()
		return 0
	}
	recipients := make([]*Connection, 0, len(conns))
	for c := range conns {
		if c != skip {
			recipients = append(recipients, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range recipients {
		if err := conn.SendJSON(ns, data); err == nil {
			sent++
		}
	}
	return sent
}
