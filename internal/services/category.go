package services

import (
	"context"
	"strings"
	"time"

	"moneybook/internal/cache"
	"moneybook/internal/core"
	"moneybook/internal/storage"
)

const categoryCacheSize = 1000

// CategoryList is the flat list plus the forest built from it.
type CategoryList struct {
	Categories []core.Category      `json:"categories"`
	Tree       []*core.CategoryNode `json:"tree"`
}

type CategoryInput struct {
	Name   string
	Type   core.CategoryType
	Parent string
}

// CategoryUpdate carries a partial update. A non-nil empty Parent moves the
// category to the root.
type CategoryUpdate struct {
	ID     string
	Name   *string
	Type   *core.CategoryType
	Parent *string
}

// CategoryService manages the per-user category forest. Category lists are
// cached per user and dropped on every change.
type CategoryService struct {
	repo  *storage.SQLiteRepository
	cache *cache.LRUCache[[]core.Category]
}

func NewCategoryService(repo *storage.SQLiteRepository, ttl time.Duration) *CategoryService {
	return &CategoryService{
		repo:  repo,
		cache: cache.NewLRUCache[[]core.Category](categoryCacheSize, ttl),
	}
}

// Index returns a lookup over the user's categories.
func (s *CategoryService) Index(ctx context.Context, userID string) (*core.CategoryIndex, error) {
	list, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return core.NewCategoryIndex(list), nil
}

func (s *CategoryService) load(ctx context.Context, userID string) ([]core.Category, error) {
	list, err := s.cache.GetOrLoad(ctx, userID, func(ctx context.Context) ([]core.Category, error) {
		return s.repo.ListCategories(ctx, userID)
	})
	if err != nil {
		return nil, wrapStorage("list categories", err)
	}
	return list, nil
}

// Invalidate drops the cached categories of a user.
func (s *CategoryService) Invalidate(userID string) {
	s.cache.Delete(userID)
}

// List returns the user's categories flat and as a tree.
func (s *CategoryService) List(ctx context.Context, userID string) (CategoryList, error) {
	list, err := s.load(ctx, userID)
	if err != nil {
		return CategoryList{}, err
	}
	flat := make([]core.Category, len(list))
	copy(flat, list)
	return CategoryList{
		Categories: flat,
		Tree:       core.NewCategoryIndex(list).Tree(),
	}, nil
}

// Add creates a category under an optional parent.
func (s *CategoryService) Add(ctx context.Context, userID string, in CategoryInput) (CategoryList, error) {
	const scope = "category.add"

	c := core.Category{
		User:   userID,
		Name:   strings.TrimSpace(in.Name),
		Type:   in.Type,
		Parent: strings.TrimSpace(in.Parent),
	}
	if err := c.Validate(); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}
	if c.Parent != "" {
		if err := checkID("parent", c.Parent); err != nil {
			return CategoryList{}, core.Scoped(scope, err)
		}
	}

	idx, err := s.Index(ctx, userID)
	if err != nil {
		return CategoryList{}, err
	}
	if err := checkSiblings(idx, c); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}
	if err := idx.CheckPlacement(c); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}

	if _, err := s.repo.CreateCategory(ctx, c); err != nil {
		return CategoryList{}, wrapStorage("create category", err)
	}
	s.Invalidate(userID)
	return s.List(ctx, userID)
}

// Update renames, retypes or moves a category. System categories are
// read-only; a category with children keeps its type.
func (s *CategoryService) Update(ctx context.Context, userID string, in CategoryUpdate) (CategoryList, error) {
	const scope = "category.update"

	if err := checkID(core.FieldID, in.ID); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}

	idx, err := s.Index(ctx, userID)
	if err != nil {
		return CategoryList{}, err
	}
	c, ok := idx.Get(in.ID)
	if !ok {
		return CategoryList{}, core.Scoped(scope, core.NotFound(core.FieldID))
	}
	if c.System {
		return CategoryList{}, core.Scoped(scope, core.Invalid(core.FieldID, core.ReasonSystem))
	}

	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Parent != nil {
		c.Parent = strings.TrimSpace(*in.Parent)
		if c.Parent != "" {
			if err := checkID("parent", c.Parent); err != nil {
				return CategoryList{}, core.Scoped(scope, err)
			}
		}
	}
	if in.Type != nil && *in.Type != c.Type {
		if idx.HasChildren(c.ID) {
			return CategoryList{}, core.Scoped(scope, core.Invalid("type", core.ReasonInvalid))
		}
		if err := s.checkRetype(ctx, c.ID, *in.Type); err != nil {
			return CategoryList{}, core.Scoped(scope, err)
		}
		c.Type = *in.Type
	}

	if err := c.Validate(); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}
	if err := checkSiblings(idx, c); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}
	if err := idx.CheckPlacement(c); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}

	if err := s.repo.UpdateCategory(ctx, c); err != nil {
		return CategoryList{}, core.Scoped(scope, wrapStorage("update category", notFound(err, core.FieldID)))
	}
	s.Invalidate(userID)
	return s.List(ctx, userID)
}

// checkRetype refuses a type change that would leave filed operations
// under a category that no longer accepts them.
func (s *CategoryService) checkRetype(ctx context.Context, id string, to core.CategoryType) error {
	for _, op := range []core.OperationType{core.OperationExpense, core.OperationIncome} {
		if to.Accepts(op) {
			continue
		}
		n, err := s.repo.CountCategoryOperations(ctx, id, op)
		if err != nil {
			return wrapStorage("count category operations", err)
		}
		if n > 0 {
			return core.Invalid("type", core.ReasonInUse)
		}
	}
	return nil
}

// Remove deletes a category. Its children move up to its parent and its
// operations are refiled under the system category.
func (s *CategoryService) Remove(ctx context.Context, userID, id string) (CategoryList, error) {
	const scope = "category.remove"

	if err := checkID(core.FieldID, id); err != nil {
		return CategoryList{}, core.Scoped(scope, err)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		c, err := q.GetCategory(ctx, userID, id)
		if err != nil {
			return notFound(err, core.FieldID)
		}
		if c.System {
			return core.Invalid(core.FieldID, core.ReasonSystem)
		}
		fallback, err := q.GetSystemCategory(ctx, userID)
		if err != nil {
			return err
		}
		if err := q.MoveOperationsCategory(ctx, userID, c.ID, fallback.ID); err != nil {
			return err
		}
		if err := q.ReparentCategories(ctx, userID, c.ID, c.Parent); err != nil {
			return err
		}
		return q.DeleteCategory(ctx, userID, c.ID)
	})
	s.Invalidate(userID)
	if err != nil {
		return CategoryList{}, core.Scoped(scope, wrapStorage("remove category", err))
	}
	return s.List(ctx, userID)
}

// checkSiblings rejects a name already used by another category under the
// same parent.
func checkSiblings(idx *core.CategoryIndex, c core.Category) error {
	for _, sib := range idx.Children(c.Parent) {
		if sib.ID != c.ID && strings.EqualFold(sib.Name, c.Name) {
			return core.Invalid("name", core.ReasonExist)
		}
	}
	return nil
}
