package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/service"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Report summarizes an import run
type Report struct {
	Holders        int `json:"holders"`
	Deposits       int `json:"deposits"`
	Vouches        int `json:"vouches"`
	DuplicateVouch int `json:"duplicate_vouches"`
	LinkedAccounts int `json:"linked_accounts"`
	Recomputed     int `json:"recomputed"`
}

// Importer loads XML batch files through the service.
//
// A batch file looks like:
//
//	<batch>
//	  <holder ref="h1" username="chikondi" email="c@example.com" phone="0888000111"
//	          national_id="MW-1" employment="employed" income="150000"/>
//	  <deposit holder="h1" amount="5000" type="deposit"/>
//	  <vouch voucher="h1" vouchee="42" trust="3" relationship="neighbour" cosign="true" max_cosign="2000"/>
//	  <linked_account holder="h1" provider="airtel_money" phone="0999000111"/>
//	</batch>
//
// Holder references name a ref declared earlier in the file or an existing holder id.
type Importer struct {
	svc *service.Service
	log *logrus.Logger
}

func NewImporter(svc *service.Service, log *logrus.Logger) *Importer {
	return &Importer{svc: svc, log: log}
}

// Import applies every record in document order and stops at the first failing
// record. Deferred recomputation still runs for everything applied before it.
func (im *Importer) Import(ctx context.Context, r io.Reader, policy service.RecomputePolicy) (*Report, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: failed to parse batch XML: %v", models.ErrValidation, err)
	}
	root := doc.SelectElement("batch")
	if root == nil {
		return nil, fmt.Errorf("%w: batch element not found", models.ErrValidation)
	}

	b := im.svc.NewBatch(policy)
	report := &Report{}
	refs := make(map[string]int64)

	applyErr := im.apply(ctx, b, root, refs, report)

	recomputed, finishErr := b.Finish(ctx)
	report.Recomputed = recomputed
	if err := errors.Join(applyErr, finishErr); err != nil {
		return report, err
	}

	im.log.Infof("Imported batch (policy %s): %d holders, %d deposits, %d vouches, %d linked accounts",
		policy, report.Holders, report.Deposits, report.Vouches, report.LinkedAccounts)
	return report, nil
}

func (im *Importer) apply(ctx context.Context, b *service.Batch, root *etree.Element, refs map[string]int64, report *Report) error {
	for i, el := range root.ChildElements() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch el.Tag {
		case "holder":
			err = im.holder(ctx, b, el, refs)
			if err == nil {
				report.Holders++
			}
		case "deposit":
			err = im.deposit(ctx, b, el, refs)
			if err == nil {
				report.Deposits++
			}
		case "vouch":
			var created bool
			created, err = im.vouch(ctx, b, el, refs)
			if err == nil {
				if created {
					report.Vouches++
				} else {
					report.DuplicateVouch++
				}
			}
		case "linked_account":
			err = im.linkedAccount(ctx, b, el, refs)
			if err == nil {
				report.LinkedAccounts++
			}
		default:
			err = fmt.Errorf("%w: unknown element <%s>", models.ErrValidation, el.Tag)
		}
		if err != nil {
			return fmt.Errorf("record %d <%s>: %w", i+1, el.Tag, err)
		}
	}
	return nil
}

func (im *Importer) holder(ctx context.Context, b *service.Batch, el *etree.Element, refs map[string]int64) error {
	ref := el.SelectAttrValue("ref", "")
	if ref != "" {
		if _, dup := refs[ref]; dup {
			return fmt.Errorf("%w: duplicate ref %q", models.ErrValidation, ref)
		}
	}
	h := &models.Holder{
		Username:         el.SelectAttrValue("username", ""),
		Email:            el.SelectAttrValue("email", ""),
		PhoneNumber:      el.SelectAttrValue("phone", ""),
		NationalID:       el.SelectAttrValue("national_id", ""),
		EmploymentStatus: models.EmploymentStatus(el.SelectAttrValue("employment", "")),
	}
	if v := el.SelectAttrValue("income", ""); v != "" {
		income, err := parseAmount("income", v)
		if err != nil {
			return err
		}
		h.MonthlyIncome = decimal.NewNullDecimal(income)
	}

	created, err := b.OnboardHolder(ctx, h)
	if err != nil {
		return err
	}
	if ref != "" {
		refs[ref] = created.ID
	}
	return nil
}

func (im *Importer) deposit(ctx context.Context, b *service.Batch, el *etree.Element, refs map[string]int64) error {
	holderID, err := resolve(el, "holder", refs)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", el.SelectAttrValue("amount", ""))
	if err != nil {
		return err
	}
	txType := models.TransactionType(el.SelectAttrValue("type", string(models.TxDeposit)))
	_, err = b.RecordDeposit(ctx, holderID, amount, txType)
	return err
}

func (im *Importer) vouch(ctx context.Context, b *service.Batch, el *etree.Element, refs map[string]int64) (bool, error) {
	voucherID, err := resolve(el, "voucher", refs)
	if err != nil {
		return false, err
	}
	voucheeID, err := resolve(el, "vouchee", refs)
	if err != nil {
		return false, err
	}
	trust, err := strconv.Atoi(el.SelectAttrValue("trust", ""))
	if err != nil {
		return false, fmt.Errorf("%w: invalid trust level", models.ErrValidation)
	}
	cosign, err := strconv.ParseBool(el.SelectAttrValue("cosign", "false"))
	if err != nil {
		return false, fmt.Errorf("%w: invalid cosign flag", models.ErrValidation)
	}

	v := &models.Vouch{
		VoucherID:       voucherID,
		VoucheeID:       voucheeID,
		TrustLevel:      trust,
		Relationship:    el.SelectAttrValue("relationship", ""),
		WillingToCosign: cosign,
	}
	if s := el.SelectAttrValue("max_cosign", ""); s != "" {
		limit, err := parseAmount("max_cosign", s)
		if err != nil {
			return false, err
		}
		v.MaxCosignAmount = decimal.NewNullDecimal(limit)
	}

	_, created, err := b.CreateVouch(ctx, v)
	return created, err
}

func (im *Importer) linkedAccount(ctx context.Context, b *service.Batch, el *etree.Element, refs map[string]int64) error {
	holderID, err := resolve(el, "holder", refs)
	if err != nil {
		return err
	}
	provider := models.Provider(el.SelectAttrValue("provider", ""))
	_, _, err = b.LinkVerifiedAccount(ctx, holderID, provider, el.SelectAttrValue("phone", ""))
	return err
}

// resolve maps a holder reference attribute to an id
func resolve(el *etree.Element, attr string, refs map[string]int64) (int64, error) {
	v := el.SelectAttrValue(attr, "")
	if v == "" {
		return 0, fmt.Errorf("%w: %s is required", models.ErrValidation, attr)
	}
	if id, ok := refs[v]; ok {
		return id, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown holder ref %q", models.ErrValidation, v)
	}
	return id, nil
}

func parseAmount(attr, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid %s %q", models.ErrValidation, attr, v)
	}
	return d, nil
}
