package models

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/wotrack_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const processDefinitionCacheTTL = 30 * time.Minute

func processDefinitionCacheKey(productId string) string {
	return "ProcessDefinition:" + productId
}

// GormProcessDefinitionStore reads definitions from MySQL through a Redis read-through cache.
type GormProcessDefinitionStore struct {
	db *gorm.DB
}

func NewGormProcessDefinitionStore(db *gorm.DB) *GormProcessDefinitionStore {
	return &GormProcessDefinitionStore{db: db}
}

func (s *GormProcessDefinitionStore) Get(ctx context.Context, productId string) (*ProcessDefinition, error) {
	var cached ProcessDefinition
	found, err := config.GetRedisObject(processDefinitionCacheKey(productId), &cached)
	if err != nil {
		config.LogError(config.GetLogger(), "ProcessDefinitionStore", "Get", "redis get", productId, err)
	}
	if found {
		return &cached, nil
	}

	var record ProcessDefinitionRecord
	err = s.db.WithContext(ctx).Where("product_id = ?", productId).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ConfigError{ProductId: productId, Reason: "not configured", Err: ErrNoProcessDefinition}
	}
	if err != nil {
		return nil, storageErr("get process definition", err)
	}
	def, err := record.Decode()
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(processDefinitionCacheKey(productId), def, processDefinitionCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "ProcessDefinitionStore", "Get", "redis set", productId, err)
	}
	return def, nil
}

func (s *GormProcessDefinitionStore) Put(ctx context.Context, productId string, update ProcessDefinitionUpdate) (*ProcessDefinition, error) {
	var result *ProcessDefinition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record ProcessDefinitionRecord
		def := ProcessDefinition{ProductId: productId}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("product_id = ?", productId).First(&record).Error
		if err == nil {
			current, err := record.Decode()
			if err != nil {
				return err
			}
			def = *current
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return storageErr("get process definition", err)
		}

		next := update.Apply(def)
		next.ProductId = productId
		if err := next.Validate(); err != nil {
			return err
		}
		encoded, err := EncodeProcessDefinition(next)
		if err != nil {
			return err
		}
		if err := tx.Save(&encoded).Error; err != nil {
			return storageErr("save process definition", err)
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(processDefinitionCacheKey(productId)); err != nil {
		config.LogError(config.GetLogger(), "ProcessDefinitionStore", "Put", "redis invalidate", productId, err)
	}
	return result, nil
}

func (s *GormProcessDefinitionStore) List(ctx context.Context) ([]*ProcessDefinition, error) {
	var records []ProcessDefinitionRecord
	if err := s.db.WithContext(ctx).Order("product_id").Find(&records).Error; err != nil {
		return nil, storageErr("list process definitions", err)
	}
	defs := make([]*ProcessDefinition, 0, len(records))
	for _, r := range records {
		def, err := r.Decode()
		if err != nil {
			config.LogError(config.GetLogger(), "ProcessDefinitionStore", "List", "decode", r.ProductId, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SeedProcessDefinitions upserts every definition, replacing stored configs wholesale.
func SeedProcessDefinitions(ctx context.Context, store ProcessDefinitionStore, defs []ProcessDefinition) error {
	for _, def := range defs {
		name := def.Name
		steps := def.Steps
		details := def.DetailColumns
		required := def.RequiredColumns
		aliases := def.ColumnAliases
		if aliases == nil {
			aliases = map[string][]string{}
		}
		rules := def.ValidationRules
		if rules == nil {
			rules = map[string]ValidationRule{}
		}
		update := ProcessDefinitionUpdate{
			Name:            &name,
			Steps:           &steps,
			DetailColumns:   &details,
			ColumnAliases:   aliases,
			ValidationRules: rules,
			RequiredColumns: &required,
		}
		if _, err := store.Put(ctx, def.ProductId, update); err != nil {
			return err
		}
	}
	return nil
}

// MemoryProcessDefinitionStore keeps definitions in process.
type MemoryProcessDefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]ProcessDefinition
}

func NewMemoryProcessDefinitionStore(defs ...ProcessDefinition) *MemoryProcessDefinitionStore {
	s := &MemoryProcessDefinitionStore{defs: make(map[string]ProcessDefinition)}
	for _, d := range defs {
		s.defs[d.ProductId] = d
	}
	return s
}

func (s *MemoryProcessDefinitionStore) Get(ctx context.Context, productId string) (*ProcessDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[productId]
	if !ok {
		return nil, &ConfigError{ProductId: productId, Reason: "not configured", Err: ErrNoProcessDefinition}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *MemoryProcessDefinitionStore) Put(ctx context.Context, productId string, update ProcessDefinitionUpdate) (*ProcessDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[productId]
	if !ok {
		def = ProcessDefinition{ProductId: productId}
	}
	next := update.Apply(def)
	next.ProductId = productId
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.defs[productId] = next
	return &next, nil
}

func (s *MemoryProcessDefinitionStore) List(ctx context.Context) ([]*ProcessDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ProcessDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductId < out[j].ProductId })
	return out, nil
}
