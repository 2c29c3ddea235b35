package sqlinline

const QInsertProject = `--sql 972724b3-857b-458a-90ab-0c727ba8ecd8
insert into projects (id, title, brief, created_at)
values ($1::uuid, $2::text, $3::jsonb, now())
returning created_at;
`

const QSelectProjectByID = `--sql 680c3e1d-0d27-4c93-9196-7ddf594d7252
select id::text, title, brief, created_at
from projects
where id = $1::uuid;
`
