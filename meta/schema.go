package meta

import (
	"os"
	"path/filepath"

	"github.com/dianpeng/fsql/logger"
	"github.com/goccy/go-json"
)

// schemaFile is the persisted schema description. Template instances are
// derived on demand and never written back.
type schemaFile struct {
	Version int      `json:"version"`
	Tables  []*Table `json:"tables"`
}

const schemaVersion = 1

// LoadCatalog reads a schema description file. A missing file yields an
// empty catalog bound to path, so the first DDL statement creates it.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	c.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Infof("catalog: %s does not exist, starting empty", path)
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	if tables, err := DecodeSchema(data); err != nil {
		return nil, err
	} else {
		for _, t := range tables {
			if _, err := c.Add(t); err != nil {
				return nil, err
			}
		}
		logger.Infof("catalog: loaded %d tables from %s", len(tables), path)
	}
	return c, nil
}

func DecodeSchema(data []byte) ([]*Table, error) {
	sf := schemaFile{}
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}
	return sf.Tables, nil
}

func EncodeSchema(tables []*Table) ([]byte, error) {
	sf := schemaFile{
		Version: schemaVersion,
	}
	for _, t := range tables {
		if t.TemplateOf != "" {
			continue
		}
		sf.Tables = append(sf.Tables, t)
	}
	return json.MarshalIndent(&sf, "", "  ")
}

// tablesWith lists the tables as they are once old is replaced by new. A
// nil old adds new, a nil new drops old. Called with the lock held.
func (self *Catalog) tablesWith(old, new *Table) []*Table {
	tables := []*Table{}
	for _, s := range self.slots {
		if s.table == nil {
			continue
		}
		if old != nil && s.table == old {
			if new != nil {
				tables = append(tables, new)
			}
		} else {
			tables = append(tables, s.table)
		}
	}
	if old == nil && new != nil {
		tables = append(tables, new)
	}
	return tables
}

func writeSchema(path string, tables []*Table) error {
	data, err := EncodeSchema(tables)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	logger.Debugf("catalog: schema written to %s", path)
	return os.Rename(tmp, path)
}

// Save writes the schema description to path.
func (self *Catalog) Save(path string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return writeSchema(path, self.tablesWith(nil, nil))
}
