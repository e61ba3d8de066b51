package storage

// AppendRaw stores an already encoded record, bypassing validation.
func (m *Memory) AppendRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, data)
}
