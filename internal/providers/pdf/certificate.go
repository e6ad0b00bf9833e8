package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type CertificateData struct {
	CertificateID    string
	ProductName      string
	BatchNumber      string
	ProductType      string
	Manufacturer     string
	Holder           string
	CertType         string
	Standards        []string
	Issuer           string
	IssuedAt         string
	ExpiresAt        string
	VerificationCode string
	Status           string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateCertificate(ctx context.Context, data CertificateData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(12, "Certificate of Authenticity", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)

	m.AddRow(10,
		text.NewCol(12, "Certificate no. "+data.CertificateID, props.Text{
			Size:  10,
			Align: align.Center,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Product", props.Text{Style: fontstyle.Bold}),
			text.New(data.ProductName, props.Text{Top: 5}),
			text.New("Batch: "+data.BatchNumber, props.Text{Top: 10}),
			text.New("Type: "+data.ProductType, props.Text{Top: 15}),
			text.New("Manufacturer: "+data.Manufacturer, props.Text{Top: 20}),
		),
		col.New(6).Add(
			text.New("Certification", props.Text{Style: fontstyle.Bold}),
			text.New("Holder: "+data.Holder, props.Text{Top: 5}),
			text.New("Kind: "+data.CertType, props.Text{Top: 10}),
			text.New("Issued by: "+data.Issuer, props.Text{Top: 15}),
			text.New("Status: "+data.Status, props.Text{Top: 20}),
		),
	)

	m.AddRow(10,
		col.New(6).Add(
			text.New("Issued: "+data.IssuedAt, props.Text{Size: 9}),
		),
		col.New(6).Add(
			text.New("Expires: "+data.ExpiresAt, props.Text{Size: 9}),
		),
	)

	if len(data.Standards) > 0 {
		m.AddRow(8,
			text.NewCol(12, "Standards", props.Text{Style: fontstyle.Bold, Size: 10}),
		)
		for _, standard := range data.Standards {
			m.AddRow(6,
				text.NewCol(12, "- "+standard, props.Text{Size: 9}),
			)
		}
	}

	m.AddRow(15,
		text.NewCol(12, "Verification code: "+data.VerificationCode, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Top:   5,
			Align: align.Center,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
