package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

// encodedRecord holds the JSON-column renderings of one death record.
type encodedRecord struct {
	Factors    []byte
	Related    []byte
	Provenance []byte
}

func encodeRecord(data model.EnrichmentData) (encodedRecord, error) {
	var enc encodedRecord
	var err error

	if enc.Factors, err = json.Marshal(orEmptyFactors(data.Factors)); err != nil {
		return enc, eris.Wrap(err, "store: marshal factors")
	}
	related := data.RelatedPersons
	if related == nil {
		related = []model.RelatedPerson{}
	}
	if enc.Related, err = json.Marshal(related); err != nil {
		return enc, eris.Wrap(err, "store: marshal related persons")
	}
	prov := data.Provenance
	if prov == nil {
		prov = map[string]model.SourceRef{}
	}
	if enc.Provenance, err = json.Marshal(prov); err != nil {
		return enc, eris.Wrap(err, "store: marshal provenance")
	}
	return enc, nil
}

func orEmptyFactors(factors []model.Factor) []model.Factor {
	if factors == nil {
		return []model.Factor{}
	}
	return factors
}

func decodeRecord(data *model.EnrichmentData, factorsJSON, relatedJSON, provJSON []byte) error {
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &data.Factors); err != nil {
			return eris.Wrap(err, "store: unmarshal factors")
		}
	}
	if len(relatedJSON) > 0 {
		if err := json.Unmarshal(relatedJSON, &data.RelatedPersons); err != nil {
			return eris.Wrap(err, "store: unmarshal related persons")
		}
	}
	if len(provJSON) > 0 {
		if err := json.Unmarshal(provJSON, &data.Provenance); err != nil {
			return eris.Wrap(err, "store: unmarshal provenance")
		}
	}
	if len(data.Factors) == 0 {
		data.Factors = nil
	}
	if len(data.RelatedPersons) == 0 {
		data.RelatedPersons = nil
	}
	if len(data.Provenance) == 0 {
		data.Provenance = nil
	}
	return nil
}
