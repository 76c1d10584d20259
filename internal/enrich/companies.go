package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/model"
)

// CompanyStore projects company documents out of the raw document
// store. Reads keep the full raw body so unknown upstream keys survive
// the round trip; saves merge the typed projection back over it.
type CompanyStore struct {
	store *docstore.Client
}

// NewCompanyStore wraps a docstore client.
func NewCompanyStore(store *docstore.Client) *CompanyStore {
	return &CompanyStore{store: store}
}

// Load point-reads a company by id.
func (cs *CompanyStore) Load(ctx context.Context, id string) (*model.Company, error) {
	item, err := cs.store.Read(ctx, id, docstore.Document{"id": id})
	if err != nil {
		return nil, err
	}
	var company model.Company
	if err := docstore.FromDocument(item.Body, &company); err != nil {
		return nil, eris.Wrapf(err, "enrich: company doc %s", id)
	}
	if company.ID == "" {
		company.ID = id
	}
	return &company, nil
}

// Save merges the company projection over the stored document so keys
// this code never modeled are preserved.
func (cs *CompanyStore) Save(ctx context.Context, company *model.Company) error {
	if company.ID == "" {
		return docstore.ErrMissingID
	}
	patch, err := docstore.ToDocument(company)
	if err != nil {
		return eris.Wrapf(err, "enrich: encode company %s", company.ID)
	}
	_, err = cs.store.UpsertMerged(ctx, company.ID, patch, patch)
	return err
}
