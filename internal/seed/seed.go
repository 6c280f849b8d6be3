// Package seed loads categories and tags from a YAML file into the database.
//
// The file looks like:
//
//	categories:
//	  - name: General
//	    description: Anything goes
//	    position: 1
//	tags:
//	  - go
//	  - databases
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/models"
)

type Category struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	Position    int    `yaml:"position"`
}

type File struct {
	Categories []Category `yaml:"categories"`
	Tags       []string   `yaml:"tags"`
}

// Result counts the rows created and updated by Apply.
type Result struct {
	CategoriesCreated int
	CategoriesUpdated int
	TagsCreated       int
}

// Parse decodes and validates a seed file.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	for i, c := range f.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("category %d: name is required", i+1)
		}
	}
	return &f, nil
}

// Apply upserts categories and tags by slug. Running it twice is a no-op.
func Apply(ctx context.Context, db *gorm.DB, f *File) (Result, error) {
	var res Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range f.Categories {
			slug := c.Slug
			if slug == "" {
				slug = c.Name
			}
			slug = models.Slugify(slug, 64)
			if slug == "" {
				return fmt.Errorf("category %q: empty slug", c.Name)
			}

			var existing models.Category
			err := tx.Where("slug = ?", slug).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				category := models.Category{
					Name:        strings.TrimSpace(c.Name),
					Slug:        slug,
					Description: strings.TrimSpace(c.Description),
					Position:    c.Position,
				}
				if err := tx.Create(&category).Error; err != nil {
					return fmt.Errorf("create category %q: %w", slug, err)
				}
				res.CategoriesCreated++
			case err != nil:
				return err
			default:
				name, desc := strings.TrimSpace(c.Name), strings.TrimSpace(c.Description)
				if existing.Name == name && existing.Description == desc && existing.Position == c.Position {
					continue
				}
				err := tx.Model(&existing).Updates(map[string]any{
					"name": name, "description": desc, "position": c.Position,
				}).Error
				if err != nil {
					return fmt.Errorf("update category %q: %w", slug, err)
				}
				res.CategoriesUpdated++
			}
		}

		for _, name := range f.Tags {
			name = strings.TrimSpace(name)
			slug := models.Slugify(name, 32)
			if slug == "" {
				continue
			}
			var count int64
			if err := tx.Model(&models.Tag{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&models.Tag{Name: name, Slug: slug}).Error; err != nil {
				return fmt.Errorf("create tag %q: %w", slug, err)
			}
			res.TagsCreated++
		}
		return nil
	})
	return res, err
}
