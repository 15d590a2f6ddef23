package db

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/modelchat/internal/models"
	"github.com/wuwenbin0122/modelchat/internal/store"
)

type conversationDocument struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d conversationDocument) model() *models.Conversation {
	return &models.Conversation{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type messageDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	ModelID        string    `bson:"model_id,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	Seq            int64     `bson:"seq"`
}

func (d messageDocument) model() models.Message {
	return models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Role:           models.Role(d.Role),
		Content:        d.Content,
		ModelID:        d.ModelID,
		CreatedAt:      d.CreatedAt,
	}
}

// MongoStore is a store.Gateway over the conversations and messages collections. BSON dates
// carry millisecond precision, so seq breaks ties between messages written in the same
// millisecond.
type MongoStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	lastSeq       atomic.Int64
}

var _ store.Gateway = (*MongoStore)(nil)

func NewMongoStore(m *Mongo) *MongoStore {
	return &MongoStore{conversations: m.Conversations, messages: m.Messages}
}

func (s *MongoStore) CreateConversation(ctx context.Context, ownerID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, store.Wrap("create conversation", errors.New("owner id is required"))
	}

	now := mongoNow()
	doc := conversationDocument{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     store.NormalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return nil, store.Wrap("create conversation", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, store.Wrap("get conversation", translateMongo(err))
	}
	return doc.model(), nil
}

func (s *MongoStore) UpdateConversationTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	update := bson.M{"$set": bson.M{"title": store.NormalizeTitle(title)}, "$max": bson.M{"updated_at": mongoNow()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc conversationDocument
	if err := s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		return nil, store.Wrap("update conversation title", translateMongo(err))
	}
	return doc.model(), nil
}

func (s *MongoStore) TouchConversation(ctx context.Context, id string) error {
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$max": bson.M{"updated_at": mongoNow()}})
	if err != nil {
		return store.Wrap("touch conversation", err)
	}
	if res.MatchedCount == 0 {
		return store.Wrap("touch conversation", store.ErrNotFound)
	}
	return nil
}

// DeleteConversation removes the conversation and then its messages. Mongo has no cascading
// foreign keys; a failure between the two deletes leaves orphaned messages that no longer
// resolve through any conversation.
func (s *MongoStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return store.Wrap("delete conversation", err)
	}
	if res.DeletedCount == 0 {
		return store.Wrap("delete conversation", store.ErrNotFound)
	}

	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return store.Wrap("delete conversation messages", err)
	}
	return nil
}

func (s *MongoStore) ListConversations(ctx context.Context, ownerID string) ([]models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})

	cursor, err := s.conversations.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, store.Wrap("list conversations", err)
	}
	defer cursor.Close(ctx)

	var docs []conversationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap("list conversations", err)
	}

	result := make([]models.Conversation, 0, len(docs))
	for _, doc := range docs {
		result = append(result, *doc.model())
	}
	return result, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, msg store.NewMessage) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, store.Wrap("append message", err)
	}
	if err := s.requireConversation(ctx, msg.ConversationID); err != nil {
		return nil, store.Wrap("append message", err)
	}

	createdAt := mongoNow()
	latest, err := s.latestMessage(ctx, msg.ConversationID)
	if err != nil {
		return nil, store.Wrap("append message", err)
	}
	if latest != nil && createdAt.Before(latest.CreatedAt) {
		createdAt = latest.CreatedAt
	}

	doc := messageDocument{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		ModelID:        msg.ModelID,
		CreatedAt:      createdAt,
		Seq:            s.nextSeq(),
	}

	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, store.Wrap("append message", err)
	}

	stored := doc.model()
	return &stored, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if err := s.requireConversation(ctx, conversationID); err != nil {
		return nil, store.Wrap("list messages", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, store.Wrap("list messages", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Wrap("list messages", err)
	}

	result := make([]models.Message, len(docs))
	for i, doc := range docs {
		result[len(docs)-1-i] = doc.model()
	}
	return result, nil
}

func (s *MongoStore) requireConversation(ctx context.Context, id string) error {
	count, err := s.conversations.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoStore) latestMessage(ctx context.Context, conversationID string) (*messageDocument, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})

	var doc messageDocument
	err := s.messages.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// nextSeq is strictly increasing within the process and roughly ordered across processes.
func (s *MongoStore) nextSeq() int64 {
	for {
		now := time.Now().UnixNano()
		last := s.lastSeq.Load()
		if now <= last {
			now = last + 1
		}
		if s.lastSeq.CompareAndSwap(last, now) {
			return now
		}
	}
}

func mongoNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func translateMongo(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
