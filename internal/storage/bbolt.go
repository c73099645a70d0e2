package storage

import (
	"errors"
	"fmt"
	"time"

	"razgovor/internal/models"

	"go.etcd.io/bbolt"
)

const (
	SlotAccessToken  = "accessToken"
	SlotRefreshToken = "refreshToken"
)

var (
	bucketCredentials = []byte("credentials")
	bucketUsers       = []byte("users")
	bucketMessages    = []byte("messages")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCredentials, bucketUsers, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveCredentials writes both credential slots in one transaction.
func (s *BboltStorage) SaveCredentials(pair models.CredentialPair) error {
	if !pair.Valid() {
		return models.ErrPartialCredentials
	}
	updatedAt := s.now().Unix()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		for _, c := range []DBCredential{
			{Slot: SlotAccessToken, Token: pair.AccessToken, UpdatedAt: updatedAt},
			{Slot: SlotRefreshToken, Token: pair.RefreshToken, UpdatedAt: updatedAt},
		} {
			data, err := c.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", c.Slot, err)
			}
			if err := b.Put(c.Key(), data); err != nil {
				return fmt.Errorf("failed to put %s: %w", c.Slot, err)
			}
		}
		return nil
	})
}

// LoadCredentials returns the stored pair. A pair with a missing slot is
// reported as absent.
func (s *BboltStorage) LoadCredentials() (models.CredentialPair, bool, error) {
	var pair models.CredentialPair
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		for slot, dst := range map[string]*string{
			SlotAccessToken:  &pair.AccessToken,
			SlotRefreshToken: &pair.RefreshToken,
		} {
			data := b.Get([]byte(slot))
			if data == nil {
				continue
			}
			var c DBCredential
			if err := c.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("corrupt credential slot %s: %w", slot, err)
			}
			*dst = c.Token
		}
		return nil
	})
	if err != nil {
		return models.CredentialPair{}, false, err
	}
	if !pair.Valid() {
		return models.CredentialPair{}, false, nil
	}
	return pair, true, nil
}

// ClearCredentials deletes both credential slots in one transaction.
func (s *BboltStorage) ClearCredentials() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if err := b.Delete([]byte(SlotAccessToken)); err != nil {
			return err
		}
		return b.Delete([]byte(SlotRefreshToken))
	})
}

// UserRecord is a stored user together with its password hash.
type UserRecord struct {
	models.User
	PasswordHash string
}

func (s *BboltStorage) UpsertUser(user UserRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           user.ID,
			UserName:     user.DisplayName,
			Email:        user.Email,
			PasswordHash: user.PasswordHash,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListUsers returns all users stored in the database.
func (s *BboltStorage) ListUsers() ([]UserRecord, error) {
	var users []UserRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, UserRecord{
				User: models.User{
					ID:          dbUser.ID,
					DisplayName: dbUser.UserName,
					Email:       dbUser.Email,
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return users, err
}

// AppendMessage saves a message into its conversation bucket under the next
// sequence number of that conversation.
func (s *BboltStorage) AppendMessage(message models.Message) error {
	if message.Sender == "" || message.Recipient == "" {
		return errors.New("message missing sender or recipient")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		mainMsgBucket := tx.Bucket(bucketMessages)
		chatID := models.ConversationID(message.Sender, message.Recipient)
		chatBucket, err := mainMsgBucket.CreateBucketIfNotExists([]byte(chatID))
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		dbMessage := DBMessage{
			Seq:       seq,
			Sender:    message.Sender,
			Recipient: message.Recipient,
			Content:   message.Content,
			CreatedAt: message.CreatedAt.UnixMilli(),
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		return nil
	})
}

// ListMessages returns the messages between u1 and u2 in the order they
// were stored.
func (s *BboltStorage) ListMessages(u1, u2 string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		mainMsgBucket := tx.Bucket(bucketMessages)
		chatBucket := mainMsgBucket.Bucket([]byte(models.ConversationID(u1, u2)))
		if chatBucket == nil {
			return nil // No messages for this conversation
		}
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				Sender:    dbMsg.Sender,
				Recipient: dbMsg.Recipient,
				Content:   dbMsg.Content,
				CreatedAt: time.UnixMilli(dbMsg.CreatedAt).UTC(),
			})
			return nil
		})
	})
	return messages, err
}
