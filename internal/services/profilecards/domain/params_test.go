package domain

import (
	"testing"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
)

func TestParamsRoundTripThroughFlatMap(t *testing.T) {
	in := Params{ItemID: "product-a", Language: "en", Version: 2, Database: "master", PageEditor: true, SearchString: "template = 'Product'"}
	out, err := DecodeParams(in.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("decoded = %+v, want %+v", out, in)
	}
}

func TestDecodeParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		field  string
	}{
		{name: "missing id", values: map[string]string{ParamDatabase: "master"}, field: ParamID},
		{name: "missing database", values: map[string]string{ParamID: "a"}, field: ParamDatabase},
		{name: "bad version", values: map[string]string{ParamID: "a", ParamDatabase: "master", ParamVersion: "zero"}, field: ParamVersion},
		{name: "non-positive version", values: map[string]string{ParamID: "a", ParamDatabase: "master", ParamVersion: "0"}, field: ParamVersion},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeParams(tc.values)
			if !apperrors.HasCode(err, apperrors.CodeInvalidParameters) {
				t.Fatalf("expected invalid parameters, got %v", err)
			}
			var domainErr *apperrors.Error
			if !asDomain(err, &domainErr) || domainErr.Metadata["field"] != tc.field {
				t.Fatalf("expected field %q in metadata, got %v", tc.field, err)
			}
		})
	}
}

func TestCleanSearchString(t *testing.T) {
	if got := CleanSearchString(` template = "Product" `); got != "template = Product" {
		t.Fatalf("CleanSearchString = %q", got)
	}
}

func asDomain(err error, target **apperrors.Error) bool {
	e, ok := err.(*apperrors.Error)
	if ok {
		*target = e
	}
	return ok
}
