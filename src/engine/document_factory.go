package engine

import (
	"lumendb/src/helpers"
)

// DocumentFactory prepares incoming documents for storage.
type DocumentFactory interface {
	NewDocument(body Document) (Document, error)
}

type DocumentFactoryImpl struct{}

func NewDocumentFactory() DocumentFactory {
	return &DocumentFactoryImpl{}
}

// NewDocument copies the incoming body and assigns an identifier. A supplied
// "_id" must be a non-empty string; without one a fresh UUID is used.
func (f *DocumentFactoryImpl) NewDocument(body Document) (Document, error) {
	doc := CopyDocument(body)

	if raw, ok := doc[IDField]; ok {
		id, ok := raw.(string)
		if !ok || id == "" {
			return nil, BadRequestf("%s must be a non-empty string", IDField)
		}
		return doc, nil
	}

	doc[IDField] = helpers.GenerateUUID()
	return doc, nil
}
