package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBCredential is one named credential slot.
type DBCredential struct {
	Slot      string `msgpack:"slot"`
	Token     string `msgpack:"token"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (c *DBCredential) Key() []byte {
	return []byte(c.Slot)
}

func (c *DBCredential) MarshalBinary() (data []byte, err error) {
	type alias DBCredential
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredential) UnmarshalBinary(data []byte) error {
	type alias DBCredential
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	Email        string `msgpack:"email"`
	PasswordHash string `msgpack:"passwordHash"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	Sender    string `msgpack:"sender"`
	Recipient string `msgpack:"recipient"`
	Content   string `msgpack:"content"`
	CreatedAt int64  `msgpack:"createdAt"` // Unix milliseconds
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
