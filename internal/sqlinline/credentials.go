package sqlinline

const QSelectProviderCredential = `--sql a5f26df3-c57f-4920-9f7e-60b24a8eac3e
select token
from provider_credentials
where provider = $1::text
limit 1;
`

const QUpsertProviderCredential = `--sql 5cdf9391-12fb-4a29-b2ec-bda50aa0adf4
insert into provider_credentials (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
