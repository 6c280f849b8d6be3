package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

const reindexBatch = 500

// Indexer mirrors forum writes into the search indices. Failures are logged
// and never surface to the request that triggered them.
type Indexer struct {
	backend Backend
	db      *gorm.DB
}

func NewIndexer(backend Backend, db *gorm.DB) *Indexer {
	return &Indexer{backend: backend, db: db}
}

func (ix *Indexer) save(ctx context.Context, index string, records ...any) {
	if err := ix.backend.Save(ctx, index, records); err != nil {
		logging.FromContext(ctx).Warn("search index update failed", zap.String("index", index), zap.Error(err))
	}
}

func (ix *Indexer) remove(ctx context.Context, index string, ids ...int) {
	objectIDs := make([]string, len(ids))
	for i, id := range ids {
		objectIDs[i] = objectID(id)
	}
	if err := ix.backend.Delete(ctx, index, objectIDs); err != nil {
		logging.FromContext(ctx).Warn("search index delete failed", zap.String("index", index), zap.Error(err))
	}
}

// Thread reloads the thread with its relations and first post and saves it.
func (ix *Indexer) Thread(ctx context.Context, threadID int) {
	var thread models.Thread
	if err := ix.db.WithContext(ctx).Preload("Category").Preload("Author").Preload("Tags").First(&thread, threadID).Error; err != nil {
		logging.FromContext(ctx).Warn("search: thread not loaded", zap.Int("thread_id", threadID), zap.Error(err))
		return
	}
	var first models.Post
	ix.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("id asc").Limit(1).Find(&first)
	ix.save(ctx, IndexThreads, NewThreadRecord(thread, first.Content))
}

// Post saves p; p.Author must be loaded. thread needs Category loaded.
func (ix *Indexer) Post(ctx context.Context, p models.Post, thread models.Thread) {
	ix.save(ctx, IndexPosts, NewPostRecord(p, thread))
}

// RemoveThread drops the thread and the given post ids.
func (ix *Indexer) RemoveThread(ctx context.Context, threadID int, postIDs []int) {
	ix.remove(ctx, IndexThreads, threadID)
	if len(postIDs) > 0 {
		ix.remove(ctx, IndexPosts, postIDs...)
	}
}

func (ix *Indexer) RemovePost(ctx context.Context, postID int) {
	ix.remove(ctx, IndexPosts, postID)
}

func (ix *Indexer) User(ctx context.Context, u models.User) {
	ix.save(ctx, IndexUsers, NewUserRecord(u))
}

func (ix *Indexer) Category(ctx context.Context, c models.Category) {
	ix.save(ctx, IndexCategories, NewCategoryRecord(c))
}

func (ix *Indexer) RemoveCategory(ctx context.Context, id int) {
	ix.remove(ctx, IndexCategories, id)
}

func (ix *Indexer) Tag(ctx context.Context, t models.Tag) {
	ix.save(ctx, IndexTags, NewTagRecord(t))
}

func (ix *Indexer) RemoveTag(ctx context.Context, id int) {
	ix.remove(ctx, IndexTags, id)
}

// Reindex pushes every record in the database to the search service and
// returns the number of records sent per index.
func (ix *Indexer) Reindex(ctx context.Context) (map[string]int, error) {
	defer logging.Duration(ctx, "Reindex")()
	counts := make(map[string]int)
	db := ix.db.WithContext(ctx)

	var categories []models.Category
	if err := db.Find(&categories).Error; err != nil {
		return counts, fmt.Errorf("load categories: %w", err)
	}
	if err := push(ctx, ix.backend, IndexCategories, categories, func(c models.Category) any { return NewCategoryRecord(c) }, counts); err != nil {
		return counts, err
	}

	var tags []models.Tag
	if err := db.Find(&tags).Error; err != nil {
		return counts, fmt.Errorf("load tags: %w", err)
	}
	if err := push(ctx, ix.backend, IndexTags, tags, func(t models.Tag) any { return NewTagRecord(t) }, counts); err != nil {
		return counts, err
	}

	var users []models.User
	err := db.FindInBatches(&users, reindexBatch, func(tx *gorm.DB, batch int) error {
		return push(ctx, ix.backend, IndexUsers, users, func(u models.User) any { return NewUserRecord(u) }, counts)
	}).Error
	if err != nil {
		return counts, fmt.Errorf("reindex users: %w", err)
	}

	var threads []models.Thread
	err = db.Preload("Category").Preload("Author").Preload("Tags").
		FindInBatches(&threads, reindexBatch, func(tx *gorm.DB, batch int) error {
			byID := make(map[int]models.Thread, len(threads))
			ids := make([]int, len(threads))
			for i, t := range threads {
				byID[t.ID] = t
				ids[i] = t.ID
			}

			var posts []models.Post
			if err := db.Preload("Author").Where("thread_id IN ?", ids).Order("id asc").Find(&posts).Error; err != nil {
				return err
			}

			firstBody := make(map[int]string, len(threads))
			postRecords := make([]any, 0, len(posts))
			for _, p := range posts {
				if _, ok := firstBody[p.ThreadID]; !ok {
					firstBody[p.ThreadID] = p.Content
				}
				postRecords = append(postRecords, NewPostRecord(p, byID[p.ThreadID]))
			}

			threadRecords := make([]any, 0, len(threads))
			for _, t := range threads {
				threadRecords = append(threadRecords, NewThreadRecord(t, firstBody[t.ID]))
			}

			if err := ix.backend.Save(ctx, IndexThreads, threadRecords); err != nil {
				return err
			}
			counts[IndexThreads] += len(threadRecords)
			if err := ix.backend.Save(ctx, IndexPosts, postRecords); err != nil {
				return err
			}
			counts[IndexPosts] += len(postRecords)
			return nil
		}).Error
	if err != nil {
		return counts, fmt.Errorf("reindex threads: %w", err)
	}

	return counts, nil
}

func push[T any](ctx context.Context, b Backend, index string, rows []T, toRecord func(T) any, counts map[string]int) error {
	records := make([]any, len(rows))
	for i, row := range rows {
		records[i] = toRecord(row)
	}
	if err := b.Save(ctx, index, records); err != nil {
		return err
	}
	counts[index] += len(records)
	return nil
}
