package localdb

const (
	CollectionPosts    = "posts"
	CollectionUsers    = "users"
	CollectionComments = "comments"

	SchemaVersion = 1
)

type IndexSpec struct {
	Name    string
	KeyPath string
	Unique  bool
}

type CollectionSpec struct {
	Name          string
	KeyPath       string
	AutoIncrement bool
	Indexes       []IndexSpec
}

func (c CollectionSpec) index(name string) (IndexSpec, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// Schema - версионированное описание коллекций и их индексов
type Schema struct {
	Version     int
	Collections []CollectionSpec
}

// DefaultSchema - схема клиентской базы: посты, пользователи, комментарии
func DefaultSchema() Schema {
	return Schema{
		Version: SchemaVersion,
		Collections: []CollectionSpec{
			{
				Name:          CollectionPosts,
				KeyPath:       "id",
				AutoIncrement: true,
				Indexes: []IndexSpec{
					{Name: "authorId", KeyPath: "authorId"},
					{Name: "timestamp", KeyPath: "timestamp"},
					{Name: "type", KeyPath: "type"},
				},
			},
			{
				Name:          CollectionUsers,
				KeyPath:       "id",
				AutoIncrement: true,
				Indexes: []IndexSpec{
					{Name: "username", KeyPath: "username", Unique: true},
				},
			},
			{
				Name:          CollectionComments,
				KeyPath:       "id",
				AutoIncrement: true,
				Indexes: []IndexSpec{
					{Name: "postId", KeyPath: "postId"},
					{Name: "authorId", KeyPath: "authorId"},
					{Name: "timestamp", KeyPath: "timestamp"},
				},
			},
		},
	}
}

func indexBucket(collection, index string) []byte {
	return []byte("__idx:" + collection + ":" + index)
}
